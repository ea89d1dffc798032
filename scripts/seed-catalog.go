//go:build ignore

// Package main generates a synthetic product catalog for benchmarking.
// Usage: go run scripts/seed-catalog.go -products 10000 -data ~/.medverify
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/medverify/medverify/internal/store"
)

var (
	numProducts = flag.Int("products", 10000, "Number of products to generate")
	dataDir     = flag.String("data", defaultDataDir(), "Data directory")
	seed        = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var names = []string{
	"Paracetamol", "Amoxicillin", "Ibuprofen", "Cetirizine", "Omeprazole",
	"Loratadine", "Metformin", "Amlodipine", "Simvastatin", "Captopril",
	"Ambroxol", "Salbutamol", "Dexamethasone", "Ranitidine", "Domperidone",
}

var forms = []string{"Tablet", "Kaplet", "Sirup", "Kapsul", "Krim"}

var makers = []string{
	"PT Kimia Farma", "PT Kalbe Farma", "PT Dexa Medica",
	"PT Sanbe Farma", "PT Tempo Scan", "PT Phapros",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		fatal(err)
	}

	catalog, err := store.OpenCatalog(filepath.Join(*dataDir, "catalog.db"), nil)
	if err != nil {
		fatal(err)
	}
	defer catalog.Close()

	lexical, err := store.OpenLexical(filepath.Join(*dataDir, "lexical.bleve"), nil)
	if err != nil {
		fatal(err)
	}
	defer lexical.Close()

	ctx := context.Background()
	batch := make([]*store.Product, 0, 512)
	for i := 0; i < *numProducts; i++ {
		p := &store.Product{
			ID:           fmt.Sprintf("prod-%06d", i),
			Code:         fmt.Sprintf("DKL%010d", rng.Int63n(1e10)),
			Name:         fmt.Sprintf("%s %d mg %s", names[rng.Intn(len(names))], 50*(1+rng.Intn(10)), forms[rng.Intn(len(forms))]),
			Manufacturer: makers[rng.Intn(len(makers))],
			Status:       "Aktif",
			UpdatedAt:    time.Now().Add(-time.Duration(rng.Intn(1000)) * 24 * time.Hour),
		}
		batch = append(batch, p)

		if len(batch) == cap(batch) || i == *numProducts-1 {
			if err := catalog.PutBatch(ctx, batch); err != nil {
				fatal(err)
			}
			if err := lexical.IndexBatch(batch); err != nil {
				fatal(err)
			}
			batch = batch[:0]
		}
	}

	fmt.Printf("seeded %d products into %s\n", *numProducts, *dataDir)
	fmt.Println("next: medverify index")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".medverify"
	}
	return filepath.Join(home, ".medverify")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
