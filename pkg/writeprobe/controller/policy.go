// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

package controller

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrEmptyPolicy is returned for a policy document with no content. A file being
// rewritten in place is empty for a moment; an empty list has to be explicit.
var ErrEmptyPolicy = errors.New("policy is empty, use 'protected_files: []' to protect nothing")

// Policy lists the files whose writes are reported
type Policy struct {
	ProtectedFiles []string `yaml:"protected_files"`
}

// LoadPolicy reads a policy file
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("reading policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML policy. Paths are cleaned and duplicates dropped.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return Policy{}, ErrEmptyPolicy
		}
		return Policy{}, fmt.Errorf("parsing policy: %w", err)
	}

	seen := make(map[string]struct{}, len(p.ProtectedFiles))
	files := p.ProtectedFiles[:0]
	for _, f := range p.ProtectedFiles {
		if f == "" {
			continue
		}
		if !filepath.IsAbs(f) {
			return Policy{}, fmt.Errorf("policy path %q is not absolute", f)
		}
		f = filepath.Clean(f)
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		files = append(files, f)
	}
	p.ProtectedFiles = files
	return p, nil
}
