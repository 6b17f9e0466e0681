// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/edgeflare/restlet/pkg/schema"
	"github.com/stretchr/testify/require"
)

// LoadJSON reads and unmarshals testdata/<filename>. If target is provided, the JSON is also unmarshaled into target.
func LoadJSON(filename string, target ...any) (map[string]any, error) {
	var result map[string]any

	_, currentFile, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(currentFile), "testdata")

	data, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	if len(target) > 0 && target[0] != nil {
		if err := json.Unmarshal(data, target[0]); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// Catalog loads the users/groups/tags/sessions/events fixture catalog.
//
//	users.group_id -> groups.id   (users.group, groups.users)
//	groups.owner_id -> users.id   (groups.owner, users.groups)
//	sessions.user_id -> users.id  (sessions.user, users.sessions)
func Catalog(t testing.TB) schema.Tables {
	t.Helper()
	var fixture struct {
		Tables []schema.Table `json:"tables"`
	}
	_, err := LoadJSON("catalog.json", &fixture)
	require.NoError(t, err)
	return schema.NewCatalog(fixture.Tables...)
}
