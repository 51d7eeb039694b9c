package tools

import "github.com/kalambet/chatcommerce/internal/llm"

var specs = []llm.ToolSpec{
	{
		Name:        SearchWeb,
		Description: "Search the web for products on the supported marketplaces. Returns only product page URLs with titles and snippets.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query, e.g. 'fone bluetooth até 200 reais'",
				},
				"max_results": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results (default 5, max 10)",
				},
			},
			"required": []string{"query"},
		},
	},
	{
		Name:        FetchPage,
		Description: "Fetch the readable text of a product page. Only product pages on supported marketplaces can be fetched.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Product page URL",
				},
			},
			"required": []string{"url"},
		},
	},
	{
		Name:        ExtractProducts,
		Description: "Extract up to 3 structured products (name, price, url, image, sku, source) from page text or from a product page URL.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"raw_text": map[string]any{
					"type":        "string",
					"description": "Page text to extract from",
				},
				"source_url": map[string]any{
					"type":        "string",
					"description": "URL of the page; fetched when raw_text is empty",
				},
			},
		},
	},
	{
		Name:        SaveLead,
		Description: "Save the customer's name and phone number once both have been collected.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":  map[string]any{"type": "string", "description": "Customer name"},
				"phone": map[string]any{"type": "string", "description": "Customer phone number"},
			},
			"required": []string{"name", "phone"},
		},
	},
}
