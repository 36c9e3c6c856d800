//go:build ignore

// Package main generates a synthetic document corpus for indexing runs.
// Usage: go run scripts/generate-test-corpus.go -docs 200 -pages 12 -output testdata/corpus
//
// Each document is a .txt file whose pages are separated by form feeds,
// which the text source treats the same way as PDF pages.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numDocs   = flag.Int("docs", 200, "Number of documents to generate")
	numPages  = flag.Int("pages", 12, "Pages per document")
	pageWords = flag.Int("words", 350, "Words per page")
	outputDir = flag.String("output", "testdata/corpus", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var topics = [][]string{
	{"warranty", "claim", "repair", "replacement", "defect", "receipt", "coverage", "period"},
	{"invoice", "payment", "balance", "due", "ledger", "account", "remittance", "credit"},
	{"turbine", "blade", "pitch", "rotor", "gearbox", "vibration", "bearing", "torque"},
	{"tenant", "lease", "deposit", "notice", "landlord", "premises", "rent", "term"},
	{"patient", "dosage", "symptom", "clinic", "referral", "diagnosis", "therapy", "record"},
}

var filler = []string{
	"the", "a", "of", "to", "and", "is", "in", "for", "with", "on",
	"must", "shall", "may", "each", "any", "under", "after", "before", "within", "when",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < *numDocs; i++ {
		topic := topics[i%len(topics)]
		pages := make([]string, *numPages)
		for p := range pages {
			pages[p] = page(rng, topic, i, p)
		}

		name := filepath.Join(*outputDir, fmt.Sprintf("doc-%04d.txt", i))
		if err := os.WriteFile(name, []byte(strings.Join(pages, "\f")), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generated %d documents (%d pages each) in %s\n", *numDocs, *numPages, *outputDir)
}

func page(rng *rand.Rand, topic []string, doc, pageNo int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document %d, section %d.\n\n", doc, pageNo+1)

	for w := 0; w < *pageWords; w++ {
		if w > 0 {
			if w%14 == 0 {
				b.WriteString(".\n")
			} else {
				b.WriteByte(' ')
			}
		}
		// Roughly one word in three is topical so queries have something to find.
		if rng.Intn(3) == 0 {
			b.WriteString(topic[rng.Intn(len(topic))])
		} else {
			b.WriteString(filler[rng.Intn(len(filler))])
		}
	}
	b.WriteString(".\n")
	return b.String()
}
