package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/binaudit/config"
	"github.com/otherjamesbrown/binaudit/pkg/judge"
	"github.com/otherjamesbrown/binaudit/pkg/logging"
	"github.com/otherjamesbrown/binaudit/pkg/materials"
	"github.com/otherjamesbrown/binaudit/pkg/patterns"
)

// patternSource is where response patterns come from: a patterns file when
// one is given, otherwise PostgreSQL when a database is configured. With
// neither, only the built-in defaults apply.
type patternSource struct {
	repo patterns.Repository
	file *patterns.FileRepository
	pool *pgxpool.Pool
}

// openPatternSource opens the pattern source. path overrides the
// configured patterns file.
func openPatternSource(ctx context.Context, cfg *config.ServiceConfig, path string, log logging.Logger) (*patternSource, error) {
	if path == "" {
		p, err := cfg.ResolvedPatternsFile()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if path != "" {
		fr, err := patterns.NewFileRepository(path, log)
		if err != nil {
			return nil, err
		}
		return &patternSource{repo: fr, file: fr}, nil
	}

	if cfg.Database != nil {
		pool, err := connectToDatabase(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connecting to pattern store: %w", err)
		}
		return &patternSource{repo: patterns.NewPostgresRepository(pool), pool: pool}, nil
	}

	return &patternSource{}, nil
}

// Resolver returns a caching resolver over the source, or nil when there
// is no source.
func (s *patternSource) Resolver(cfg *config.ServiceConfig, log logging.Logger) *patterns.Resolver {
	if s.repo == nil {
		return nil
	}
	return patterns.NewResolver(s.repo,
		patterns.WithCacheTTL(cfg.PatternCacheTTL),
		patterns.WithLogger(log))
}

// Describe names the source for log output.
func (s *patternSource) Describe() string {
	switch {
	case s.file != nil:
		return "file:" + s.file.Path()
	case s.pool != nil:
		return "postgres"
	default:
		return "builtin"
	}
}

// Close releases the database pool, if any.
func (s *patternSource) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// newJudge returns the fixture judge when fixtures is set, otherwise the
// configured model endpoint.
func newJudge(cfg *config.ServiceConfig, fixtures string) (judge.Judge, error) {
	if fixtures != "" {
		return judge.LoadStatic(fixtures, materials.Default())
	}
	if cfg.Judge.IsConfigured() {
		return judge.NewOpenAI(cfg.Judge), nil
	}
	return nil, fmt.Errorf("no judge available: pass --judgments or configure judge.base_url")
}
