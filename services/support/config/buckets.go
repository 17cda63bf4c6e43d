// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import "fmt"

// defaultModelKey is the catch-all entry within a provider's bucket map.
const defaultModelKey = "default"

// BucketTable maps provider -> model -> rate-limit bucket. The limiter
// keys its windows by bucket name, so several models can share a window.
//
// Each provider map must carry a "default" entry for models not listed
// explicitly; new model releases then inherit a sane bucket without a
// config change.
type BucketTable map[string]map[string]string

// DefaultBucketTable returns the built-in bucket mapping.
func DefaultBucketTable() BucketTable {
	return BucketTable{
		"google": {
			"gemini-2.5-flash":      "flash",
			"gemini-2.5-flash-lite": "flash",
			"gemini-2.0-flash":      "flash",
			"gemini-2.5-pro":        "pro",
			defaultModelKey:         "pro",
		},
		"openai": {
			"gpt-4o":         "gpt-4",
			"gpt-4o-mini":    "gpt-4",
			"gpt-4.1":        "gpt-4",
			"gpt-4.1-mini":   "gpt-4",
			"gpt-3.5-turbo":  "gpt-other",
			"o4-mini":        "gpt-other",
			defaultModelKey:  "gpt-other",
		},
	}
}

// Resolve returns the rate-limit bucket for a provider/model pair. Models
// without an explicit entry fall back to the provider's default bucket.
func (t BucketTable) Resolve(provider, model string) (string, error) {
	models, ok := t[provider]
	if !ok {
		return "", fmt.Errorf("no bucket mapping for provider %q", provider)
	}
	if bucket, ok := models[model]; ok {
		return bucket, nil
	}
	if bucket, ok := models[defaultModelKey]; ok {
		return bucket, nil
	}
	return "", fmt.Errorf("no default bucket for provider %q", provider)
}

// Validate checks that every supported provider has a complete mapping.
func (t BucketTable) Validate() error {
	for _, provider := range []string{"google", "openai"} {
		models, ok := t[provider]
		if !ok {
			return fmt.Errorf("buckets: provider %q is missing", provider)
		}
		if _, ok := models[defaultModelKey]; !ok {
			return fmt.Errorf("buckets: provider %q has no default bucket", provider)
		}
		for model, bucket := range models {
			if bucket == "" {
				return fmt.Errorf("buckets: provider %q model %q has an empty bucket name", provider, model)
			}
		}
	}
	return nil
}
