package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const productHTML = `<!doctype html>
<html><head>
<title>Fone JBL Tune 520BT | Amazon.com.br</title>
<meta property="og:title" content="Fone JBL Tune 520BT">
<meta property="og:site_name" content="Amazon.com.br">
<meta property="og:image" content="/images/jbl.jpg">
<meta property="product:price:amount" content="249.90">
<meta property="product:price:currency" content="BRL">
<style>.x{color:red}</style>
<script>var tracking = 1;</script>
</head>
<body>
<nav>Menu Categorias</nav>
<h1>Fone JBL Tune 520BT</h1>
<p>Bluetooth   5.3,
   57h de bateria</p>
</body></html>`

func TestDirectReader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, productHTML)
	}))
	defer srv.Close()

	d := NewDirect(srv.Client())
	got, err := d.Read(context.Background(), srv.URL+"/jbl/dp/B01")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if !strings.HasPrefix(got, "Title: Fone JBL Tune 520BT\n") {
		t.Errorf("output should start with title line:\n%s", got)
	}
	for _, want := range []string{
		"Image: " + srv.URL + "/images/jbl.jpg",
		"Price: BRL 249.90",
		"Site: Amazon.com.br",
		"Bluetooth 5.3, 57h de bateria",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	for _, unwanted := range []string{"tracking", "color:red", "Menu Categorias"} {
		if strings.Contains(got, unwanted) {
			t.Errorf("output contains %q:\n%s", unwanted, got)
		}
	}
}

func TestDirectReaderPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "just text")
	}))
	defer srv.Close()

	got, err := NewDirect(srv.Client()).Read(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "just text" {
		t.Errorf("got %q", got)
	}
}

func TestDirectReaderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := NewDirect(srv.Client()).Read(context.Background(), srv.URL); err == nil {
		t.Error("expected error for 403")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"ação", 2, "aç"},
		{"hello", 0, "hello"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
