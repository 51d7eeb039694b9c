package api

import (
	"net/http"

	"github.com/kalambet/chatcommerce/internal/storage"
)

func handleListQueries(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := storage.ClampLimit(parseIntParam(r, "limit", storage.DefaultListLimit))
		queries, err := deps.Records.ListQueries(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list queries: %v", err)
			return
		}
		if queries == nil {
			queries = []storage.Query{}
		}
		writeJSON(w, http.StatusOK, queries)
	}
}

func handleListLeads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := storage.ClampLimit(parseIntParam(r, "limit", storage.DefaultListLimit))
		leads, err := deps.Records.ListLeads(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list leads: %v", err)
			return
		}
		if leads == nil {
			leads = []storage.Lead{}
		}
		writeJSON(w, http.StatusOK, leads)
	}
}

func handleListProducts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := storage.ClampLimit(parseIntParam(r, "limit", storage.DefaultListLimit))
		products, err := deps.Records.ListProducts(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list products: %v", err)
			return
		}
		if products == nil {
			products = []storage.Product{}
		}
		writeJSON(w, http.StatusOK, products)
	}
}
