package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dialog-rag/internal/chromemdb"
	"dialog-rag/internal/config"
	"dialog-rag/internal/db"
	"dialog-rag/internal/dialogkb"
	"dialog-rag/internal/embedding"
	"dialog-rag/internal/extract"
	"dialog-rag/internal/llmservice"
	"dialog-rag/internal/rag"
	"dialog-rag/internal/source"
	"dialog-rag/internal/syncer"
)

const configFilePath = "./configs/config.yaml"

type app struct {
	cfg      *config.Config
	repo     *db.Repository
	index    db.ChunkIndex
	scope    *dialogkb.Service
	embedder *embedding.Client
	close    func()
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	runSync := flag.Bool("sync", false, "Synchronize the knowledge base from the file store")
	query := flag.String("query", "", "Question to answer against the knowledge base")
	dialog := flag.Int64("dialog", 0, "Dialog id the operation is scoped to")
	doc := flag.Int64("doc", 0, "Document id for attach/detach/toggle/password operations")
	toggle := flag.Bool("toggle", false, "Toggle the document's enabled state for the dialog")
	attach := flag.Bool("attach", false, "Attach the document to the dialog")
	detach := flag.Bool("detach", false, "Detach the document from the dialog")
	mode := flag.String("mode", "", "Set the dialog's retrieval mode: AUTO, ON or OFF")
	password := flag.String("set-password", "", "Store a document password for the dialog")
	list := flag.Bool("list", false, "List the dialog's attached documents")
	flag.Parse()

	ctx := context.Background()

	a, err := setup(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Setup failed")
	}
	defer a.close()

	switch {
	case *runSync:
		a.syncKB(ctx)
	case *query != "":
		a.answer(ctx, *dialog, *query)
	case *toggle:
		a.toggleDoc(ctx, *dialog, *doc)
	case *attach:
		a.must(a.scope.Attach(ctx, *dialog, *doc), "Attach failed")
		fmt.Printf("document %d attached to dialog %d\n", *doc, *dialog)
	case *detach:
		a.must(a.scope.Detach(ctx, *dialog, *doc), "Detach failed")
		fmt.Printf("document %d detached from dialog %d\n", *doc, *dialog)
	case *mode != "":
		a.setMode(ctx, *dialog, *mode)
	case *password != "":
		a.must(a.scope.SetPassword(ctx, *dialog, *doc, *password), "Storing password failed")
		fmt.Printf("password stored for document %d\n", *doc)
	case *list:
		a.listDocs(ctx, *dialog)
	default:
		flag.Usage()
	}
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configFilePath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	sqldb, err := db.ConnectDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	bundb := db.NewDB(sqldb, cfg.Database.Debug)
	if err := db.InitDB(ctx, bundb, cfg.RAG.EmbeddingDimension); err != nil {
		bundb.Close()
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	repo := db.NewRepository(bundb)

	var index db.ChunkIndex = repo
	if cfg.RAG.VectorBackend == "chromem" {
		index, err = chromemdb.NewIndex(cfg.RAG.ChromemPath)
		if err != nil {
			bundb.Close()
			return nil, fmt.Errorf("opening chromem index: %w", err)
		}
	}

	inner, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		bundb.Close()
		return nil, fmt.Errorf("initializing embedder: %w", err)
	}
	embedder := embedding.NewClient(inner, cfg.RAG.EmbeddingDimension, cfg.RAG.EmbedBatchSize)

	return &app{
		cfg:      cfg,
		repo:     repo,
		index:    index,
		scope:    dialogkb.NewService(repo),
		embedder: embedder,
		close:    func() { bundb.Close() },
	}, nil
}

func (a *app) must(err error, msg string) {
	if err != nil {
		log.Fatal().Err(err).Msg(msg)
	}
}

func (a *app) syncKB(ctx context.Context) {
	src := source.NewDiskClient(a.cfg.Source.Token, a.cfg.Source.Root)
	extractor := extract.NewService(llmservice.NewVision(&a.cfg.VisionLLM))

	s := syncer.New(src, extractor, a.embedder, a.repo, a.index, syncer.Options{
		Root:         a.cfg.Source.Root,
		ChunkSize:    a.cfg.RAG.ChunkSize,
		ChunkOverlap: a.cfg.RAG.ChunkOverlap,
		Concurrency:  a.cfg.RAG.MaxSyncConcurrency,
	})

	report, err := s.Sync(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("added %d, updated %d, deleted %d, unchanged %d\n",
		report.Added, report.Updated, report.Deleted, report.Unchanged)
	for _, e := range report.Errors {
		fmt.Printf("  failed %s: %s (%s)\n", e.Path, e.Reason, e.Detail)
	}
}

func (a *app) answer(ctx context.Context, dialogID int64, query string) {
	retriever := rag.NewRetriever(a.scope, a.embedder, a.index, &a.cfg.ChatLLM, a.cfg.RAG.DefaultTopK)
	resp, err := retriever.Answer(ctx, dialogID, query)
	if err != nil {
		log.Fatal().Err(err).Msg("Answering failed")
	}
	fmt.Println(resp.Content)
	if resp.Source != "" {
		fmt.Printf("\nsources: %s\n", resp.Source)
	}
}

func (a *app) toggleDoc(ctx context.Context, dialogID, docID int64) {
	state, err := a.scope.Toggle(ctx, dialogID, docID)
	if err != nil {
		log.Fatal().Err(err).Msg("Toggle failed")
	}
	fmt.Printf("document %d is now %s for dialog %d\n", docID, state, dialogID)
}

func (a *app) setMode(ctx context.Context, dialogID int64, mode string) {
	set, err := a.scope.SetMode(ctx, dialogID, mode)
	if err != nil {
		log.Fatal().Err(err).Msg("Setting mode failed")
	}
	fmt.Printf("dialog %d retrieval mode set to %s\n", dialogID, set)
}

func (a *app) listDocs(ctx context.Context, dialogID int64) {
	docs, err := a.scope.ListAttached(ctx, dialogID)
	if err != nil {
		log.Fatal().Err(err).Msg("Listing documents failed")
	}
	if len(docs) == 0 {
		fmt.Println("no documents attached")
		return
	}
	for _, d := range docs {
		state := "disabled"
		if d.IsEnabled {
			state = "enabled"
		}
		fmt.Printf("%d\t%s\t%s\t%s\n", d.DocumentID, state, d.Title, d.Path)
	}
}
