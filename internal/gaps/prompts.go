package gaps

const questionsSystemPrompt = "You write short, specific follow-up questions an imaging physicist would ask the authors of a methods section to resolve missing or uncertain acquisition parameters. One question per gap. Plain language, no preamble. Output STRICT JSON only as specified."

const questionsUserTemplate = `DOCUMENT TITLE: %s
MODALITIES: %s

GAPS FOUND:
%s

Write one question per gap, in the same order. Each question must name the
parameter and, for conflicts, the competing values. STRICT JSON only.`
