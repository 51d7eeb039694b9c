package extract

import "strings"

const systemPrompt = "You are a JSON-only product extractor. Return only valid JSON, no other text."

func userPrompt(text, sourceURL string) string {
	var b strings.Builder
	b.WriteString(`Analyze the text below and extract UP TO 3 products.

For each product provide:
- name: product name (required)
- price: numeric price (omit if not found)
- url: product URL (required; use the page URL when the text does not show one)
- image: image URL (optional)
- sku: product SKU or ID (optional)
- source: store name (optional)

Return ONLY a JSON object of the form {"products":[...]}. No markdown, no explanation.
If no products are found return {"products":[]}.
`)
	if sourceURL != "" {
		b.WriteString("\nPage URL: ")
		b.WriteString(sourceURL)
		b.WriteString("\n")
	}
	b.WriteString("\nText to analyze:\n\"\"\"\n")
	b.WriteString(text)
	b.WriteString("\n\"\"\"")
	return b.String()
}
