package billing

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := `prices:
  - id: price_small
    product: credit_bundle
  - id: price_hat
    product: merch
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if !catalog.IsCreditBundle("price_small") {
		t.Fatalf("price_small should be a credit bundle")
	}
	if catalog.IsCreditBundle("price_hat") {
		t.Fatalf("price_hat should not be a credit bundle")
	}
	if catalog.IsCreditBundle("price_missing") {
		t.Fatalf("unknown price should not match")
	}
}

func TestLoadCatalogRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("prices: []\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := LoadCatalog(path); err == nil {
		t.Fatalf("expected error for empty catalog")
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()
	for _, id := range []string{
		"price_glim_credits_100",
		"price_glim_credits_250",
		"price_glim_credits_500",
		"price_glim_credits_1000",
	} {
		if !catalog.IsCreditBundle(id) {
			t.Errorf("default catalog missing %s", id)
		}
	}
}
