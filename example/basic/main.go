package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/siherrmann/retriever"
	"github.com/siherrmann/retriever/core/search"
	"github.com/siherrmann/retriever/helper"
	"github.com/siherrmann/retriever/model"
)

const sampleContent = `This is a sample document about vector databases.

Vector databases store embeddings next to the original text and answer nearest neighbour queries.
PostgreSQL with the pgvector extension supports HNSW and IVFFlat indexes for cosine distance.

Full text search ranks documents by weighted term matches.
Combining both signals allows for hybrid retrieval that finds exact keywords and paraphrases alike.`

func main() {
	ctx := context.Background()

	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(ctx)

	// Create database configuration using the container port
	dbConfig := &helper.DatabaseConfiguration{
		Host:                "localhost",
		Port:                dbPort,
		Database:            "retriever",
		Username:            "postgres",
		Password:            "password",
		Schema:              "public",
		SSLMode:             "disable",
		MaxOpenConns:        10,
		MaxIdleConns:        2,
		HealthCheckAttempts: 5,
		HealthCheckBackoff:  2 * time.Second,
	}

	r, err := retriever.NewRetriever(dbConfig, 384)
	if err != nil {
		log.Fatalf("Failed to create retriever: %v", err)
	}
	defer r.Close()

	// Set up the default pipeline (semantic chunking + embeddings)
	if err := r.UseDefaultPipeline(); err != nil {
		log.Fatalf("Failed to set up pipeline: %v", err)
	}

	kb := &model.KnowledgeBase{
		TenantID:    "demo",
		Name:        "Databases",
		Description: "notes about vector and full text search",
	}
	if err := r.InsertKnowledgeBase(ctx, kb); err != nil {
		log.Fatalf("Failed to insert knowledge base: %v", err)
	}

	doc := model.NewDocument(kb.ID, "Introduction to Vector Databases", sampleContent, model.Metadata{
		"author": "Example Author",
		"topic":  "databases",
	})
	doc.Source = "basic_example"

	fmt.Println("Indexing document...")
	numChunks, err := r.IndexDocument(ctx, doc)
	if err != nil {
		log.Fatalf("Failed to index document: %v", err)
	}
	fmt.Printf("Document inserted with ID: %s\n", doc.ID)
	fmt.Printf("Inserted %d chunks\n", numChunks)

	queryText := "Which indexes does pgvector support?"
	fmt.Printf("\nQuerying: %s\n", queryText)

	config := model.DefaultSearchConfig()
	config.TenantIDs = []string{kb.TenantID}
	config.KbIDs = []string{kb.ID}
	config.Size = 5
	config.SimilarityThreshold = 0.1

	ranks, err := r.Retrieval(ctx, queryText, config)
	if err != nil {
		log.Fatalf("Failed to search: %v", err)
	}

	fmt.Printf("\nFound %d results:\n", ranks.Total)
	for i, chunk := range ranks.Chunks {
		fmt.Printf("\n--- Result %d ---\n", i+1)
		fmt.Printf("Score: %.4f (term %.4f, vector %.4f)\n", chunk.Similarity, chunk.TermSimilarity, chunk.VectorSimilarity)
		fmt.Printf("Content: %s\n", chunk.Content)
		if chunk.Highlight != "" {
			fmt.Printf("Highlight: %s\n", chunk.Highlight)
		}
	}

	answer := "pgvector supports HNSW and IVFFlat indexes for cosine distance. Hybrid retrieval combines keywords and embeddings."
	cited, used, err := r.InsertCitations(ctx, answer, ranks.Chunks, search.DefaultCitationOptions())
	if err != nil {
		log.Fatalf("Failed to insert citations: %v", err)
	}
	fmt.Printf("\nAnswer with citations:\n%s\n", cited)
	fmt.Printf("Cited chunks: %v\n", used)

	fmt.Println("\nBasic example completed successfully!")
}
