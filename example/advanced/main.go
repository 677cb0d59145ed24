package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/siherrmann/retriever"
	"github.com/siherrmann/retriever/core/pipeline"
	"github.com/siherrmann/retriever/database"
	"github.com/siherrmann/retriever/helper"
	"github.com/siherrmann/retriever/model"
)

const handbookContent = `Employees get thirty vacation days per year.
Unused vacation days expire at the end of March.
Vacation requests are approved by the team lead.
Remote work is possible two days per week.
Remote work requires a stable connection and a quiet room.
Sick leave must be reported before nine in the morning.
A doctor's note is needed after three days of sick leave.`

const budgetContent = `The travel budget is approved every quarter.
Invoices are paid within thirty days.
Travel expenses need a receipt.
Hotel costs above two hundred euros need approval.`

// extractiveChat is a stand-in chat model that answers with the first two sentences
// of the prompt. Routing prompts are answered with the first listed id.
type extractiveChat struct{}

func (extractiveChat) Chat(ctx context.Context, system string, messages []pipeline.Message, opts pipeline.ChatOptions) (string, error) {
	prompt := messages[len(messages)-1].Content
	if strings.Contains(prompt, "Knowledge bases:") {
		for _, line := range strings.Split(prompt, "\n") {
			if id, ok := strings.CutPrefix(line, "- "); ok {
				return strings.SplitN(id, ":", 2)[0], nil
			}
		}
	}

	var summary []string
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasSuffix(line, ".") && !strings.HasPrefix(line, "Please") && !strings.HasPrefix(line, "The above") {
			summary = append(summary, line)
		}
		if len(summary) == 2 {
			break
		}
	}
	return strings.Join(summary, " "), nil
}

func (extractiveChat) ModelName() string { return "extractive" }

func main() {
	ctx := context.Background()

	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(ctx)

	// Create database configuration
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
	if err := r.SetChatModel(extractiveChat{}); err != nil {
		log.Fatalf("Failed to set chat model: %v", err)
	}

	// Knowledge bases of one tenant
	hr := &model.KnowledgeBase{TenantID: "acme", Name: "HR", Description: "employee handbook vacation remote work sick leave"}
	finance := &model.KnowledgeBase{TenantID: "acme", Name: "Finance", Description: "travel budget invoices expenses"}
	for _, kb := range []*model.KnowledgeBase{hr, finance} {
		if err := r.InsertKnowledgeBase(ctx, kb); err != nil {
			log.Fatalf("Failed to insert knowledge base %s: %v", kb.Name, err)
		}
	}

	fmt.Println("=== Indexing Documents ===")
	handbook := model.NewDocument(hr.ID, "Employee Handbook", handbookContent, model.Metadata{"department": "hr", "year": 2024})
	budget := model.NewDocument(finance.ID, "Travel Budget", budgetContent, model.Metadata{"department": "finance", "year": 2024})
	for _, doc := range []*model.Document{handbook, budget} {
		n, err := r.IndexDocument(ctx, doc)
		if err != nil {
			log.Fatalf("Failed to index document %s: %v", doc.Name, err)
		}
		fmt.Printf("Document '%s' (ID: %s): %d chunks\n", doc.Name, doc.ID, n)
	}

	// 1. Summary tree over the handbook
	fmt.Println("\n=== 1. Summary Tree ===")
	raptorConfig := model.DefaultRaptorConfig()
	raptorConfig.Workers = 4
	tree, inserted, err := r.BuildSummaryTree(ctx, handbook.ID, raptorConfig)
	if err != nil {
		log.Fatalf("Summary tree failed: %v", err)
	}
	fmt.Printf("Built %d levels, indexed %d summaries, %d failed clusters\n", tree.Depth(), inserted, len(tree.Failures))
	for i, layer := range tree.Layers {
		fmt.Printf("  Level %d: nodes [%d, %d)\n", i, layer.Start, layer.End)
	}

	queryText := "How many vacation days do employees get?"

	// 2. Hierarchical retrieval with rule based routing
	fmt.Println("\n=== 2. Hierarchical Retrieval (rule based) ===")
	config := model.DefaultRetrievalConfig()
	config.KBRoutingMethod = model.RoutingRuleBased
	config.KBRoutingThreshold = 0.2
	config.MetadataFields = []string{"department", "year"}
	if err := r.SetRetrievalConfig(config); err != nil {
		log.Fatalf("Invalid retrieval config: %v", err)
	}
	result, err := r.Retrieve(ctx, queryText, []string{hr.ID, finance.ID}, 5, nil)
	if err != nil {
		log.Fatalf("Hierarchical retrieval failed: %v", err)
	}
	printResult(result)

	// 3. Hierarchical retrieval with metadata filters
	fmt.Println("\n=== 3. Hierarchical Retrieval (filtered) ===")
	config.KBRoutingMethod = model.RoutingAll
	if err := r.SetRetrievalConfig(config); err != nil {
		log.Fatalf("Invalid retrieval config: %v", err)
	}
	result, err = r.Retrieve(ctx, "Who pays invoices?", []string{hr.ID, finance.ID}, 5, map[string]any{"department": "finance"})
	if err != nil {
		log.Fatalf("Filtered retrieval failed: %v", err)
	}
	printResult(result)

	// 4. Hierarchical retrieval routed by the chat model
	fmt.Println("\n=== 4. Hierarchical Retrieval (LLM routing) ===")
	config.KBRoutingMethod = model.RoutingLLMBased
	if err := r.SetRetrievalConfig(config); err != nil {
		log.Fatalf("Invalid retrieval config: %v", err)
	}
	result, err = r.Retrieve(ctx, queryText, []string{hr.ID, finance.ID}, 5, nil)
	if err != nil {
		log.Fatalf("LLM routed retrieval failed: %v", err)
	}
	printResult(result)

	// 5. Demonstrate index type switching
	fmt.Println("\n=== 5. Changing Index Type ===")
	fmt.Println("Switching to IVFFlat index...")
	err = r.ChangeIndexType(ctx, database.IndexIVFFlat, database.IndexParams{Lists: 100})
	if err != nil {
		log.Printf("Warning: Index change failed (this is okay for small datasets): %v", err)
	} else {
		fmt.Println("Successfully switched to IVFFlat index")
	}

	fmt.Println("Switching back to HNSW index...")
	err = r.ChangeIndexType(ctx, database.IndexHNSW, database.IndexParams{M: 16, EfConstruction: 64})
	if err != nil {
		log.Printf("Warning: Index change failed: %v", err)
	} else {
		fmt.Println("Successfully switched to HNSW index")
	}

	// 6. Metrics
	fmt.Println("\n=== 6. Metrics ===")
	count, err := testutil.GatherAndCount(r.Registry)
	if err != nil {
		log.Printf("Warning: gathering metrics failed: %v", err)
	}
	fmt.Printf("Collected %d metric series\n", count)

	fmt.Println("\n=== Advanced Example Completed Successfully! ===")
	fmt.Println("\nKey features demonstrated:")
	fmt.Println("✓ Recursive cluster summaries indexed as chunks")
	fmt.Println("✓ Knowledge base routing (rule based and LLM based)")
	fmt.Println("✓ Metadata filtering of documents")
	fmt.Println("✓ Chunk refinement with hybrid search")
	fmt.Println("✓ Index type switching (HNSW ↔ IVFFlat)")
	fmt.Println("✓ Prometheus metrics")
}

func printResult(result *model.RetrievalResult) {
	fmt.Printf("States: %v\n", result.States)
	fmt.Printf("Knowledge bases: %v (%.2f ms)\n", result.SelectedKBs, result.Tier1TimeMs)
	fmt.Printf("Documents: %d (%.2f ms)\n", result.Tier2Candidates, result.Tier2TimeMs)
	fmt.Printf("Chunks: %d (%.2f ms)\n", result.Tier3Candidates, result.Tier3TimeMs)
	for i, chunk := range result.RetrievedChunks {
		if i >= 3 {
			break // Show only first 3
		}
		content := chunk.Content
		if len(content) > 80 {
			content = content[:80] + "..."
		}
		fmt.Printf("  %d. [%.4f] %s\n", i+1, chunk.Similarity, content)
	}
}
