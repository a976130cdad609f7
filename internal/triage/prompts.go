package triage

const verdictSystemPrompt = "You are an expert scientific classifier for detecting whether a scientific paper reports medical imaging methods. Output STRICT JSON only. Prioritize recall: if any acquisition parameters, modality indicators, or sequence/reconstruction jargon are present, classify as imaging with appropriate confidence. Only classify as non-imaging when none of these cues are present in the provided text."

const verdictUserTemplate = `Decide whether this paper is about medical imaging methods or clearly includes imaging acquisition details that support reproducibility.

EARLY PAGES TEXT (title + first pages, truncated):
"""
%s
"""

CUES TO LOOK FOR (non-exhaustive):
- CT: kVp, mAs, tube current, collimation, pitch, slice thickness, reconstruction kernel/filter, FBP/IR/MBIR, FOV, voxel size, matrix
- MRI: TR, TE, TI, flip angle, field strength (e.g., 1.5T/3T/7T), coil, EPI, spin-echo/gradient-echo, T1/T2-weighted, FLAIR, DWI with b-values
- PET/SPECT: SUV, MBq, OSEM iterations/subsets, TOF, PSF, attenuation correction, sinogram, list-mode
- Ultrasound: transducer MHz, probe type, focal depth, Doppler, B-mode
- General: voxel size, registration, resampling, reconstruction algorithm, kernel

Rules:
- If any unambiguous method cue appears, set "is_imaging": true even when the modality is uncertain.
- Ignore mentions that appear only in references or affiliations without method cues.
- If uncertain, set confidence <= 0.6; when explicit parameters are present, use >= 0.7.
- STRICT JSON only.`

const titleSystemPrompt = "You are a careful bibliographic assistant for scientific PDFs. Extract ONLY the main article title from noisy front-matter. Output STRICT JSON. Do not output section headings, running heads, short titles, or journal/affiliation/footer text. De-hyphenate words split across line breaks, collapse whitespace, and keep the full title (including any subtitle after a colon) as it appears."

const titleUserTemplate = `From the early pages of a scientific PDF, extract the MAIN ARTICLE TITLE.

TEXT (truncated, may include headers/footers/authors/sections):
"""
%s
"""

Rules:
- Keep the complete title including a subtitle after a colon if present.
- Never return section labels (Abstract, Introduction, Methods, Results, ...), journal or publisher strings, affiliations, or author lists.
- Prefer the prominent heading immediately preceding the Abstract/Introduction, 6-25 words when possible.
- If uncertain, set confidence <= 0.6.
- STRICT JSON only.`

const pageClassSystemPrompt = "You are a precise scientific text classifier. Output STRICT JSON only."

const pageClassUserTemplate = `From this page TEXT, decide if it contains imaging acquisition/method details and list modalities.

TEXT:
"""
%s
"""

Rules:
- labels must come from: methods, acquisition, preprocessing, table, other.
- Only include modalities supported by the text (e.g., TR/TE -> MRI; kVp/mAs -> CT; SUV -> PET; transducer -> Ultrasound).
- evidence holds short substrings from the page (<= 3).
- STRICT JSON only.`
