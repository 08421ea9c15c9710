package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/database"
	"github.com/corralhq/corral/internal/models"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/logger"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// SchemaService is the registry of JSON Schema documents governing resource
// kinds. Every resource write validates its payload here first.
type SchemaService struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSchemaService constructs the registry.
func NewSchemaService(db *gorm.DB) (*SchemaService, error) {
	if db == nil {
		return nil, errors.New("schema service requires database handle")
	}
	return &SchemaService{db: db, logger: logger.WithModule("services.schema")}, nil
}

// Create registers a new schema for a kind. Admin only; the document must
// compile under draft-07.
func (s *SchemaService) Create(ctx context.Context, claims *auth.Claims, kind string, doc json.RawMessage) (*models.Schema, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}
	if !claims.Admin {
		return nil, apperrors.ErrForbidden
	}
	if kind == "" {
		return nil, apperrors.NewBadRequest("kind is required")
	}
	if _, err := compileSchema(kind, doc); err != nil {
		return nil, err
	}

	schema := &models.Schema{
		Kind: kind,
		Data: datatypes.JSON(doc),
	}

	db := s.db.WithContext(ensureContext(ctx))
	if err := db.Create(schema).Error; err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("create schema: %w", err))
	}

	s.ensureUniqueIndexes(db, kind, doc)
	return schema, nil
}

// Update replaces a schema document. Admin only.
func (s *SchemaService) Update(ctx context.Context, claims *auth.Claims, id string, doc json.RawMessage) (*models.Schema, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}
	if !claims.Admin {
		return nil, apperrors.ErrForbidden
	}

	db := s.db.WithContext(ensureContext(ctx))

	var schema models.Schema
	if err := db.First(&schema, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("load schema: %w", err))
	}

	if _, err := compileSchema(schema.Kind, doc); err != nil {
		return nil, err
	}

	schema.Data = datatypes.JSON(doc)
	if err := db.Save(&schema).Error; err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("update schema: %w", err))
	}

	s.ensureUniqueIndexes(db, schema.Kind, doc)
	return &schema, nil
}

// Get fetches a schema by id.
func (s *SchemaService) Get(ctx context.Context, claims *auth.Claims, id string) (*models.Schema, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}

	var schema models.Schema
	err := s.db.WithContext(ensureContext(ctx)).First(&schema, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("load schema: %w", err))
	}
	return &schema, nil
}

// GetByKind fetches a schema by its kind.
func (s *SchemaService) GetByKind(ctx context.Context, kind string) (*models.Schema, error) {
	var schema models.Schema
	err := s.db.WithContext(ensureContext(ctx)).First(&schema, "kind = ?", kind).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("load schema: %w", err))
	}
	return &schema, nil
}

// List returns all registered schemas ordered by kind.
func (s *SchemaService) List(ctx context.Context, claims *auth.Claims) ([]models.Schema, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}

	var schemas []models.Schema
	err := s.db.WithContext(ensureContext(ctx)).Order("kind").Find(&schemas).Error
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("list schemas: %w", err))
	}
	return schemas, nil
}

// Delete removes a schema. Admin only. Resources of the kind are untouched;
// subsequent writes for the kind will be rejected until a new schema exists.
func (s *SchemaService) Delete(ctx context.Context, claims *auth.Claims, id string) error {
	if claims == nil {
		return apperrors.ErrUnauthorized
	}
	if !claims.Admin {
		return apperrors.ErrForbidden
	}

	result := s.db.WithContext(ensureContext(ctx)).Delete(&models.Schema{}, "id = ?", id)
	if result.Error != nil {
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("delete schema: %w", result.Error))
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Validate checks a resource payload against the schema registered for its
// kind. Unknown kinds and violating documents are invalid-argument failures.
func (s *SchemaService) Validate(ctx context.Context, kind string, doc json.RawMessage) error {
	schema, err := s.GetByKind(ctx, kind)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == apperrors.ErrNotFound.Code {
			return apperrors.NewBadRequest(fmt.Sprintf("no schema registered for kind %q", kind))
		}
		return err
	}

	compiled, err := compileSchema(kind, json.RawMessage(schema.Data))
	if err != nil {
		return err
	}

	var value interface{}
	if err := json.Unmarshal(doc, &value); err != nil {
		return apperrors.NewBadRequest("data is not valid JSON")
	}

	if err := compiled.Validate(value); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return apperrors.NewBadRequest(fmt.Sprintf("data does not satisfy schema for kind %q: %v", kind, validationErr))
		}
		return apperrors.NewBadRequest(err.Error())
	}
	return nil
}

// LoadDirectory registers or updates one schema per "<kind>.json" file. Used
// for bulk bootstrap at startup; missing directory is not an error.
func (s *SchemaService) LoadDirectory(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("schema bootstrap: read directory: %w", err)
	}

	db := s.db.WithContext(ensureContext(ctx))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		kind := strings.TrimSuffix(entry.Name(), ".json")
		doc, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("schema bootstrap: read %s: %w", entry.Name(), err)
		}
		if _, err := compileSchema(kind, doc); err != nil {
			return fmt.Errorf("schema bootstrap: %s: %w", entry.Name(), err)
		}

		var existing models.Schema
		err = db.First(&existing, "kind = ?", kind).Error
		switch {
		case err == nil:
			existing.Data = datatypes.JSON(doc)
			if err := db.Save(&existing).Error; err != nil {
				return fmt.Errorf("schema bootstrap: update %s: %w", kind, err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			schema := &models.Schema{Kind: kind, Data: datatypes.JSON(doc)}
			if err := db.Create(schema).Error; err != nil {
				return fmt.Errorf("schema bootstrap: create %s: %w", kind, err)
			}
		default:
			return fmt.Errorf("schema bootstrap: lookup %s: %w", kind, err)
		}

		s.ensureUniqueIndexes(db, kind, doc)
		s.logger.Info("loaded schema", zap.String("kind", kind))
	}
	return nil
}

// ensureUniqueIndexes creates one unique index per top-level property marked
// x-unique, scoped to the kind. Failures are logged, not fatal: the schema
// itself stays authoritative and the index is an enforcement aid.
func (s *SchemaService) ensureUniqueIndexes(db *gorm.DB, kind string, doc json.RawMessage) {
	props := uniqueProperties(doc)
	if len(props) == 0 {
		return
	}

	for _, prop := range props {
		if !identifierPattern.MatchString(prop) || !identifierPattern.MatchString(strings.ReplaceAll(kind, "-", "_")) {
			s.logger.Warn("skipping unique index for unsafe identifier",
				zap.String("kind", kind), zap.String("property", prop))
			continue
		}

		name := fmt.Sprintf("uniq_resources_%s_%s", strings.ReplaceAll(kind, "-", "_"), prop)

		var stmt string
		switch {
		case database.IsPostgres(db):
			stmt = fmt.Sprintf(
				"CREATE UNIQUE INDEX IF NOT EXISTS %s ON resources ((data ->> '%s')) WHERE kind = '%s'",
				name, prop, kind)
		case database.IsSQLite(db):
			stmt = fmt.Sprintf(
				"CREATE UNIQUE INDEX IF NOT EXISTS %s ON resources (json_extract(data, '$.%s')) WHERE kind = '%s'",
				name, prop, kind)
		default:
			s.logger.Warn("unique schema annotations are not enforced on this database dialect",
				zap.String("kind", kind), zap.String("property", prop))
			continue
		}

		if err := db.Exec(stmt).Error; err != nil {
			s.logger.Error("failed to create unique index",
				zap.String("kind", kind), zap.String("property", prop), zap.Error(err))
		}
	}
}

// uniqueProperties extracts top-level property names annotated x-unique.
func uniqueProperties(doc json.RawMessage) []string {
	var schema struct {
		Properties map[string]struct {
			Unique bool `json:"x-unique"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(doc, &schema); err != nil {
		return nil
	}

	props := make([]string, 0)
	for name, prop := range schema.Properties {
		if prop.Unique {
			props = append(props, name)
		}
	}
	return props
}

func compileSchema(kind string, doc json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	url := fmt.Sprintf("corral://schemas/%s.json", kind)
	if err := compiler.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("schema for kind %q is not valid JSON: %v", kind, err))
	}

	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("schema for kind %q does not compile: %v", kind, err))
	}
	return compiled, nil
}
