package usecase

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

// EngineService manages the engine catalogue. Engines describe the processing
// configuration a worker should apply; the broker only stores and hands them
// out.
type EngineService struct {
	Engines domain.EngineStore
}

// NewEngineService constructs an EngineService.
func NewEngineService(engines domain.EngineStore) *EngineService {
	return &EngineService{Engines: engines}
}

// CreateEngineInput is the admin request to register an engine.
type CreateEngineInput struct {
	Name        string `json:"name" validate:"required,max=128"`
	Version     string `json:"version" validate:"required,max=64"`
	Description string `json:"description" validate:"max=1024"`
}

// Create registers an engine; admin only.
func (s *EngineService) Create(ctx domain.Context, caller domain.Key, in CreateEngineInput) (domain.Engine, error) {
	if err := requireAdmin("engine.create", caller); err != nil {
		return domain.Engine{}, err
	}
	if err := validate.Struct(in); err != nil {
		return domain.Engine{}, fmt.Errorf("op=engine.create: %v: %w", err, domain.ErrValidation)
	}
	return s.Engines.Create(ctx, domain.Engine{
		Name:        in.Name,
		Version:     in.Version,
		Description: in.Description,
	})
}

// List returns the catalogue; any authenticated caller may browse it.
func (s *EngineService) List(ctx domain.Context) ([]domain.Engine, error) {
	return s.Engines.List(ctx)
}

// Get loads one engine by id.
func (s *EngineService) Get(ctx domain.Context, id string) (domain.Engine, error) {
	return s.Engines.Get(ctx, id)
}

// Delete removes an engine; admin only. Jobs referencing it keep running with
// a null engine.
func (s *EngineService) Delete(ctx domain.Context, caller domain.Key, id string) error {
	if err := requireAdmin("engine.delete", caller); err != nil {
		return err
	}
	return s.Engines.Delete(ctx, id)
}

type engineCatalogue struct {
	Engines []struct {
		Name        string `yaml:"name"`
		Version     string `yaml:"version"`
		Description string `yaml:"description"`
	} `yaml:"engines"`
}

// SeedFromFile upserts the engines listed in a YAML catalogue file. Existing
// name+version pairs only get their description refreshed, so re-seeding at
// every startup is safe.
func (s *EngineService) SeedFromFile(ctx domain.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("op=engine.seed file=%s: %w", path, err)
	}
	var cat engineCatalogue
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return fmt.Errorf("op=engine.seed file=%s: %w", path, err)
	}
	for _, e := range cat.Engines {
		if e.Name == "" || e.Version == "" {
			return fmt.Errorf("op=engine.seed file=%s: entry missing name or version: %w", path, domain.ErrValidation)
		}
		if _, err := s.Engines.UpsertByNameVersion(ctx, domain.Engine{
			Name:        e.Name,
			Version:     e.Version,
			Description: e.Description,
		}); err != nil {
			return err
		}
	}
	slog.Info("engine catalogue seeded", slog.String("file", path), slog.Int("engines", len(cat.Engines)))
	return nil
}
