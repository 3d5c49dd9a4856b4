package surreal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Valid simple", "personas", false},
		{"Valid with underscore", "owner_id", false},
		{"Valid with numbers", "field1", false},
		{"Valid with mixed case", "OwnerId", false},
		{"Invalid space", "owner id", true},
		{"Invalid semicolon", "owner;id", true},
		{"Invalid dash", "owner-id", true},
		{"Invalid special char", "owner$", true},
		{"Invalid SQL injection", "posts; REMOVE TABLE posts", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateIdentifier(tt.input); (err != nil) != tt.wantErr {
				t.Errorf("validateIdentifier() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildWhereClause(t *testing.T) {
	tests := []struct {
		name    string
		filter  map[string]interface{}
		want    string
		wantErr bool
	}{
		{"Empty filter", map[string]interface{}{}, "true", false},
		{"Single filter", map[string]interface{}{"author_id": "123"}, "author_id = $author_id", false},
		{"Sorted keys", map[string]interface{}{"original_post_id": "p", "author_id": "a"}, "author_id = $author_id AND original_post_id = $original_post_id", false},
		{"Invalid key", map[string]interface{}{"author id": "123"}, "", true},
		{"Injection key", map[string]interface{}{"id; --": "123"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildWhereClause(tt.filter)
			if (err != nil) != tt.wantErr {
				t.Errorf("buildWhereClause() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("buildWhereClause() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	q, err := Select("posts", []string{"uid", "content"}, map[string]interface{}{"author_id": "a"}, "created_at desc", 25)
	require.NoError(t, err)
	assert.Equal(t, "SELECT uid, content FROM posts WHERE author_id = $author_id ORDER BY created_at DESC LIMIT 25;", q)

	q, err = Select("personas", nil, nil, "", 0)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM personas WHERE true;", q)

	_, err = Select("posts", []string{"content; DELETE posts"}, nil, "", 0)
	assert.Error(t, err)

	_, err = Select("posts", nil, nil, "created_at; --", 0)
	assert.Error(t, err)
}

func TestNormalizeHost(t *testing.T) {
	assert.Equal(t, "wss://db.example.com/rpc", NormalizeHost("db.example.com"))
	assert.Equal(t, "ws://localhost:8000/rpc", NormalizeHost("ws://localhost:8000/rpc"))
}

func TestDecodeRows(t *testing.T) {
	type row struct {
		UID  string `json:"uid"`
		Cost int64  `json:"cost"`
	}

	var rows []row
	require.NoError(t, decodeRows([]interface{}{
		map[string]interface{}{"uid": "a", "cost": uint64(7)},
		map[string]interface{}{"uid": "b", "cost": int64(3)},
	}, &rows))
	assert.Equal(t, []row{{"a", 7}, {"b", 3}}, rows)

	rows = nil
	require.NoError(t, decodeRows(map[string]interface{}{"uid": "solo"}, &rows))
	assert.Equal(t, []row{{UID: "solo"}}, rows)

	rows = nil
	require.NoError(t, decodeRows(nil, &rows))
	assert.Empty(t, rows)
}
