/*
Copyright 2026 The Perkeep Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storage

import (
	"fmt"
	"strings"
)

// ParseConfig splits a semicolon-delimited "name=value" option string
// into a map with lower-cased names.
func ParseConfig(src string) (map[string]string, error) {
	rt := map[string]string{}
	for _, item := range strings.Split(src, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		eq := strings.IndexByte(item, '=')
		if eq < 0 {
			return nil, fmt.Errorf("%w: option %q has no value", ErrConfig, item)
		}
		name := strings.ToLower(strings.TrimSpace(item[:eq]))
		if name == "" {
			return nil, fmt.Errorf("%w: option %q has no name", ErrConfig, item)
		}
		rt[name] = strings.TrimSpace(item[eq+1:])
	}
	return rt, nil
}

// configBool interprets yes/no (and true/false, 1/0) option values.
func configBool(val string) (bool, error) {
	switch strings.ToLower(val) {
	case "", "no", "false", "0":
		return false, nil
	case "yes", "true", "1":
		return true, nil
	}
	return false, fmt.Errorf("%w: invalid boolean value %q", ErrConfig, val)
}

// CreateOptions are the storage-create options of §6.4 style
// configuration strings: "metadata=<columns>; acl=yes".
type CreateOptions struct {
	// ACL selects whether per-user access control lists are stored.
	ACL bool
	// MetaData is the comma-separated column definition list of the
	// initial metadata table schema.
	MetaData string
}

// ParseCreateOptions parses a storage-create configuration string.
func ParseCreateOptions(src string) (CreateOptions, error) {
	var rt CreateOptions
	cfg, err := ParseConfig(src)
	if err != nil {
		return rt, err
	}
	for name, val := range cfg {
		switch name {
		case "acl":
			if rt.ACL, err = configBool(val); err != nil {
				return rt, err
			}
		case "metadata":
			rt.MetaData = val
		default:
			return rt, fmt.Errorf("%w: unknown storage option %q", ErrConfig, name)
		}
	}
	return rt, nil
}

// ClientOptions are the storage-client options: currently only
// "cachedterms", a path to a newline-separated term list warming the
// term cache at open.
type ClientOptions struct {
	CachedTermsFile string
}

// ParseClientOptions parses a storage-client configuration string.
func ParseClientOptions(src string) (ClientOptions, error) {
	var rt ClientOptions
	cfg, err := ParseConfig(src)
	if err != nil {
		return rt, err
	}
	for name, val := range cfg {
		switch name {
		case "cachedterms":
			rt.CachedTermsFile = val
		default:
			return rt, fmt.Errorf("%w: unknown client option %q", ErrConfig, name)
		}
	}
	return rt, nil
}
