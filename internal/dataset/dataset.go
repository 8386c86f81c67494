// Package dataset loads the read-only user and auth token collections shared by
// every virtual user during a run.
//
// Both collections are read once before traffic starts and never written
// afterwards, so concurrent readers need no synchronization.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

// User is a single user record. Only the username matters to the workload;
// other fields in the file (for example passwords) are ignored.
type User struct {
	Username string `json:"username"`
}

// Dataset holds users and their auth tokens, index-aligned.
//
// Tokens[i] authenticates Users[i] for every valid i.
type Dataset struct {
	Users  []User
	Tokens []string
}

// Len returns the number of users (and tokens).
func (d *Dataset) Len() int {
	return len(d.Users)
}

// Username returns the username at index i.
func (d *Dataset) Username(i int) string {
	return d.Users[i].Username
}

// Token returns the auth token for the user at index i.
func (d *Dataset) Token(i int) string {
	return d.Tokens[i]
}

// New builds a dataset from in-memory collections, applying the same
// consistency checks as Load.
func New(users []User, tokens []string) (*Dataset, error) {
	if len(users) == 0 {
		return nil, &DataError{Message: "users collection is empty"}
	}
	if len(users) != len(tokens) {
		return nil, &DataError{
			Message: fmt.Sprintf("users and auth tokens differ in length: %d users, %d tokens", len(users), len(tokens)),
		}
	}
	return &Dataset{Users: users, Tokens: tokens}, nil
}

// Load reads the users file and the auth token file.
//
// Both paths must be non-empty and absolute; otherwise a *ConfigError is
// returned without touching the filesystem. Unreadable or malformed content,
// or collections of different lengths, produce a *DataError.
func Load(usersPath, tokensPath string) (*Dataset, error) {
	if err := checkPath("users file", usersPath); err != nil {
		return nil, err
	}
	if err := checkPath("auth token file", tokensPath); err != nil {
		return nil, err
	}

	users, err := loadUsers(usersPath)
	if err != nil {
		return nil, err
	}

	tokens, err := loadTokens(tokensPath)
	if err != nil {
		return nil, err
	}

	ds, err := New(users, tokens)
	if err != nil {
		if dataErr, ok := err.(*DataError); ok && dataErr.Path == "" {
			dataErr.Path = usersPath
		}
		return nil, err
	}
	return ds, nil
}

// checkPath rejects empty and relative paths.
func checkPath(field, path string) error {
	if path == "" {
		return &ConfigError{Field: field, Message: "path is empty"}
	}
	if !filepath.IsAbs(path) {
		return &ConfigError{Field: field, Message: fmt.Sprintf("path %q is not absolute", path)}
	}
	return nil
}

func readJSON(path string) ([]byte, interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &DataError{Path: path, Message: "failed to read file", Err: err}
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, &DataError{Path: path, Message: "invalid JSON", Err: err}
	}
	return data, doc, nil
}

func loadUsers(path string) ([]User, error) {
	data, doc, err := readJSON(path)
	if err != nil {
		return nil, err
	}

	if err := validateShape(compiledUsers, doc); err != nil {
		return nil, &DataError{Path: path, Message: "unexpected users file shape", Err: err}
	}

	names := gjson.GetBytes(data, "#.username").Array()
	users := make([]User, len(names))
	for i, name := range names {
		users[i] = User{Username: name.String()}
	}
	return users, nil
}

func loadTokens(path string) ([]string, error) {
	data, doc, err := readJSON(path)
	if err != nil {
		return nil, err
	}

	if err := validateShape(compiledTokens, doc); err != nil {
		return nil, &DataError{Path: path, Message: "unexpected auth token file shape", Err: err}
	}

	items := gjson.ParseBytes(data).Array()
	tokens := make([]string, len(items))
	for i, item := range items {
		tokens[i] = item.String()
	}
	return tokens, nil
}
