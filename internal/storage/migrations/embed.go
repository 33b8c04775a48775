package migrations

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"text/template"
)

// PostgresFS embeds all PostgreSQL migration files.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds all ClickHouse migration files.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS

// tableVars are the values substituted into migration templates.
// Every field is already quoted for the target dialect.
type tableVars struct {
	Schema string
	Table  string
	Index  string
}

// render reads every .sql file under dir in lexical order and executes it as a template.
func render(fsys fs.FS, dir string, vars tableVars) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	out := make([]string, 0, len(files))
	for _, file := range files {
		data, err := fs.ReadFile(fsys, dir+"/"+file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}

		tmpl, err := template.New(file).Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse migration %s: %w", file, err)
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, vars); err != nil {
			return nil, fmt.Errorf("render migration %s: %w", file, err)
		}
		out = append(out, buf.String())
	}

	return out, nil
}
