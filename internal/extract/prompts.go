package extract

const extractSystemPrompt = "You are a precise information extraction model for medical imaging methods. Extract only when the text gives explicit evidence. Anchor every value to an exact substring. Normalize units to the canonical unit named for each field. Output STRICT JSON only as specified. Do not include commentary."

const extractUserTemplate = `TEXT WINDOW (may include tables/symbols/units):
"""
%s
"""

Pages covered (zero-based, inclusive): %d-%d

PARAMETERS TO EXTRACT (emit ONLY when supported by explicit text):
- slice_thickness_mm (number, mm) — e.g., "slice thickness 1.25 mm"; "0.5 cm" -> 5.0
- kernel (string) — e.g., "B30f", "FC13", "Bone", "Standard"
- kernel_family (string) — one of: soft_tissue | bone | lung | standard | detail | smooth | unknown
- kVp (number) — e.g., "120 kVp"
- mAs (number) — e.g., "150 mAs", "ref. mAs 200"
- voxel_size_mm ([x,y,z] numbers, mm) — "1x1x3 mm" -> [1,1,3]; "1 mm isotropic" -> [1,1,1]
- matrix ([w,h] numbers) — "512x512" -> [512,512]
- fov_mm (number, mm) — "FOV 25 cm" -> 250
- repetition_time_ms (number, ms) — e.g., "TR = 500 ms"; "TR 2 s" -> 2000
- echo_time_ms (number, ms) — e.g., "TE = 30 ms"
- flip_angle_deg (number, deg) — e.g., "flip angle 90°"
- field_strength_t (number, T) — e.g., "3T scanner" -> 3

Rules:
- Emit entries only with direct textual support; DO NOT guess.
- Normalize cm -> mm (x10) and s -> ms (x1000) when applicable.
- raw_snippet is a short exact substring from the window (<= 120 chars).
- If uncertain, set confidence <= 0.6.
- STRICT JSON only.`
