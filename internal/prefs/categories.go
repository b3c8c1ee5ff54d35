// Package prefs persists user preferences next to the config file.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jask/moneysync/internal/category"
)

const categoriesFile = "categories.json"

// CategoriesPath returns the custom vocabulary file inside dir.
func CategoriesPath(dir string) string {
	return filepath.Join(dir, categoriesFile)
}

// SaveCategories writes group -> labels to dir, replacing the file atomically.
func SaveCategories(dir string, groups map[string][]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(groups, "", "  ")
	if err != nil {
		return err
	}
	path := CategoriesPath(dir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadCategories reads the custom groups in dir. A missing file is empty.
func LoadCategories(dir string) (map[string][]string, error) {
	data, err := os.ReadFile(CategoriesPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]string{}, nil
		}
		return nil, err
	}
	groups := map[string][]string{}
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("parse %s: %w", categoriesFile, err)
	}
	return groups, nil
}

// AddCategory appends label to group in dir's custom file.
func AddCategory(dir, group, label string) error {
	group = strings.ToLower(strings.TrimSpace(group))
	label = strings.ToLower(strings.TrimSpace(label))
	if group == "" || label == "" {
		return fmt.Errorf("group and label are required")
	}
	groups, err := LoadCategories(dir)
	if err != nil {
		return err
	}
	for _, l := range groups[group] {
		if l == label {
			return nil
		}
	}
	groups[group] = append(groups[group], label)
	sort.Strings(groups[group])
	return SaveCategories(dir, groups)
}

// Vocabulary merges the custom groups in dir over the built-in ones. Built-in
// labels keep their group.
func Vocabulary(dir string) (*category.Vocabulary, error) {
	custom, err := LoadCategories(dir)
	if err != nil {
		return nil, err
	}
	merged := make(map[string][]string, len(category.DefaultGroups)+len(custom))
	for g, labels := range category.DefaultGroups {
		merged[g] = append([]string(nil), labels...)
	}
	defaults := category.DefaultVocabulary()
	for g, labels := range custom {
		for _, l := range labels {
			if defaults.Valid(l) {
				continue
			}
			merged[g] = append(merged[g], l)
		}
	}
	return category.NewVocabulary(merged), nil
}
