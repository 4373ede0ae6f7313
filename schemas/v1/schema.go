package v1

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/go-pg/migrations/v8"

	"github.com/brscrawler/brs-crawler/model"
	"github.com/brscrawler/brs-crawler/schemas"
)

const MajorVersion = 1

func init() {
	schemas.RegisterSchema(MajorVersion)
}

// GetBase renders the base schema for the given configuration.
func GetBase(cfg schemas.Config) (string, error) {
	tmpl, err := template.New("base").Funcs(schemas.TemplateFuncs).Parse(BaseTemplate)
	if err != nil {
		return "", fmt.Errorf("parse base template: %w", err)
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return "", fmt.Errorf("execute base template: %w", err)
	}
	return buf.String(), nil
}

// GetPatches returns the migrations that bring the base schema up to the latest version.
func GetPatches(cfg schemas.Config) (*migrations.Collection, error) {
	return patches.Collection(cfg)
}

// Version is the latest version of this major schema.
func Version() model.Version {
	return model.Version{
		Major: MajorVersion,
		Patch: len(patches.pm),
	}
}

var patches = patchList{pm: map[int]*template.Template{}}

type patchList struct {
	pm map[int]*template.Template
}

// Register adds a patch to the patch list. This should be called in an init function.
func (pl *patchList) Register(seq int, text string) {
	if seq <= 0 {
		panic(fmt.Sprintf("invalid patch number: %d", seq))
	}
	if _, exists := pl.pm[seq]; exists {
		panic(fmt.Sprintf("duplicate patch registered: %d", seq))
	}

	tmpl, err := template.New("patch").Funcs(schemas.TemplateFuncs).Parse(text)
	if err != nil {
		panic(fmt.Sprintf("parse patch %d template: %v", seq, err))
	}
	pl.pm[seq] = tmpl
}

// Collection renders every patch into a migration collection. Patches must be numbered from 1 without gaps.
func (pl *patchList) Collection(cfg schemas.Config) (*migrations.Collection, error) {
	count := len(pl.pm)

	migs := make([]*migrations.Migration, 0, count)
	for i := 1; i <= count; i++ {
		tmpl, exists := pl.pm[i]
		if !exists {
			return nil, fmt.Errorf("missing patch %d", i)
		}

		var buf strings.Builder
		if err := tmpl.Execute(&buf, cfg); err != nil {
			return nil, fmt.Errorf("execute patch %d template: %w", i, err)
		}
		sql := buf.String()

		migs = append(migs, &migrations.Migration{
			Version: int64(i),
			UpTx:    true,
			Up: func(db migrations.DB) error {
				_, err := db.Exec(sql)
				return err
			},
		})
	}

	coll := migrations.NewCollection(migs...)
	coll.SetTableName(schemaName(cfg) + ".gopg_migrations")
	return coll, nil
}

func schemaName(cfg schemas.Config) string {
	if cfg.SchemaName == "" {
		return "public"
	}
	return cfg.SchemaName
}
