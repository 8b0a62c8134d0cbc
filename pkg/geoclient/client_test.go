//go:build integration

// Integration test for the client against a running server.
// Requires a running server: go run ./cmd/geobrowse
//
// Run: go test -tags=integration ./pkg/geoclient/
package geoclient_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/joeblew999/geobrowse/pkg/geoclient"
)

func baseURL() string {
	if u := os.Getenv("GEO_BASE_URL"); u != "" {
		return u
	}
	return "http://localhost:8086"
}

func client() *geoclient.Client {
	return geoclient.New(baseURL())
}

func TestCatalog(t *testing.T) {
	cat, err := client().Catalog(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cat.TablesBySchema == nil {
		t.Fatal("tables_by_schema missing")
	}
}

func TestQuery(t *testing.T) {
	resp, err := client().Query(context.Background(), "SELECT 1 AS ok")
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Rows) != 1 {
		t.Fatalf("rows=%d, want 1", len(resp.Rows))
	}
}

func TestQueryError(t *testing.T) {
	_, err := client().Query(context.Background(), "SELECT * FROM no_such_table_here")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *geoclient.APIError
	if !errors.As(err, &apiErr) || apiErr.Detail == "" {
		t.Fatalf("want APIError with detail, got %v", err)
	}
}
