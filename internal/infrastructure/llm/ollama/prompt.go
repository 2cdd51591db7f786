package ollama

import "unicode/utf8"

const itemSchemaInstruction = `Return a strict JSON object with a single key "items":
an array where each element has keys
description (string, the requirement text),
quantity (number or null),
unit (string or null),
specifications (array of strings, may be empty),
category (string or null).
No markdown, no extra keys, no commentary.`

func buildLineItemPrompt(text string) string {
	const maxSnippet = 8000
	snippet := text
	if len(snippet) > maxSnippet {
		// Back off to a rune boundary so the model never sees a split
		// multi-byte character.
		cut := maxSnippet
		for cut > 0 && !utf8.RuneStart(snippet[cut]) {
			cut--
		}
		snippet = snippet[:cut]
	}

	return `You are a procurement document analyst. Extract every requirement
line item (goods, services, materials) from the document text below.
` + itemSchemaInstruction + `

Document text:
` + snippet
}

func visionItemPrompt(mimeType string) string {
	return `You are a procurement document analyst looking at one page of a
quotation or bill-of-materials document (` + mimeType + `). Read the page
visually, including tables with irregular layout, and extract every
requirement line item.
` + itemSchemaInstruction
}
