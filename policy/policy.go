// Package policy provides a dotted-path configuration value used for
// per-vertex and per-container tunables, and for overlaying the DTC_*
// runtime environment described in spec.md section 6 onto engine defaults.
package policy

/*
   Copyright 2018 Bruno Moura <brunotm@gmail.com>

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

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Policy is a configuration object safe for concurrent gets but not for sets.
// Items are addressed by a path using dot separated names for both setting
// and getting values. Valid paths:
//
//	a
//	a.nest.key
//	a.nest.key.array.# for set to append to an array
//	a.nest.key.array.#.key for set to append to an array a nested element
//	a.nest.key.array.2 for set or get the 3rd element from an array
//	a.nest.key.array.2.key for set or get the 3rd element from an array a nested element
type Policy struct {
	data interface{}
}

// New creates a Policy from an existing map[string]interface{}, or an empty
// Policy if nil is given.
func New(data map[string]interface{}) (p Policy) {
	if data == nil {
		data = make(map[string]interface{})
	}
	p.data = data
	return p
}

// IsSet returns true if path is set.
func (p Policy) IsSet(path ...string) (ok bool) {
	if len(path) == 1 {
		path = strings.Split(path[0], ".")
	}
	return search(p.data, path) != nil
}

// Get retrieves the Policy item for the given path.
func (p Policy) Get(path ...string) (policy Policy) {
	if len(path) == 1 {
		path = strings.Split(path[0], ".")
	}
	return Policy{search(p.data, path)}
}

// String returns the string value for the current item or a default.
func (p Policy) String(def string) (value string) {
	if p.data == nil {
		return def
	}
	v, err := cast.ToStringE(p.data)
	if err != nil {
		return def
	}
	return v
}

// Bool returns the bool value for the current item or a default.
func (p Policy) Bool(def bool) (value bool) {
	if p.data == nil {
		return def
	}
	v, err := cast.ToBoolE(p.data)
	if err != nil {
		return def
	}
	return v
}

// Duration returns the time.Duration value for the current item or a default.
func (p Policy) Duration(def time.Duration) (value time.Duration) {
	if p.data == nil {
		return def
	}
	v, err := cast.ToDurationE(p.data)
	if err != nil {
		return def
	}
	return v
}

// Int returns the int value for the current item or a default.
func (p Policy) Int(def int) (value int) {
	if p.data == nil {
		return def
	}
	v, err := cast.ToIntE(p.data)
	if err != nil {
		return def
	}
	return v
}

// Int64 returns the int64 value for the current item or a default.
func (p Policy) Int64(def int64) (value int64) {
	if p.data == nil {
		return def
	}
	v, err := cast.ToInt64E(p.data)
	if err != nil {
		return def
	}
	return v
}

// Float64 returns the float64 value for the current item or a default.
func (p Policy) Float64(def float64) (value float64) {
	if p.data == nil {
		return def
	}
	v, err := cast.ToFloat64E(p.data)
	if err != nil {
		return def
	}
	return v
}

// Set the value for the given path, creating any needed map or slice.
func (p Policy) Set(value interface{}, path ...string) {
	if len(path) == 1 {
		path = strings.Split(path[0], ".")
	}
	set(p.data, value, path)
}

// BufferSize returns the "stream.buffer_size" tunable (the initial capacity
// hint handed to a vertex's stream buffers), or DefaultBufferSize.
func (p Policy) BufferSize() int {
	return p.Get("stream.buffer_size").Int(DefaultBufferSize)
}

// CloseTimeout returns the "stream.close_timeout" tunable (how long
// RemoveOStream keeps retrying a flush-on-close drain before giving up), or
// DefaultCloseTimeout.
func (p Policy) CloseTimeout() time.Duration {
	return p.Get("stream.close_timeout").Duration(DefaultCloseTimeout)
}

// Encode serializes p for the one case it must cross process boundaries:
// graph/topology.go's vertex descriptors in Topology.Archive. Policy's own data
// is an untyped, arbitrarily nested map — unlike every other wire field,
// which has a fixed shape the Archiver encodes field-by-field — so JSON is
// the simplest faithful round trip for it.
func Encode(p Policy) ([]byte, error) {
	if p.data == nil {
		return nil, nil
	}
	return json.Marshal(p.data)
}

// Decode is Encode's inverse.
func Decode(b []byte) (Policy, error) {
	if len(b) == 0 {
		return New(nil), nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return Policy{}, err
	}
	return New(m), nil
}

func search(source interface{}, path []string) (data interface{}) {
	data = source
	var ok bool

	for _, key := range path {
		switch tmp := data.(type) {
		case map[string]interface{}:
			if data, ok = tmp[key]; !ok {
				return nil
			}
		case []interface{}:
			idx, err := strconv.ParseInt(key, 10, 64)
			if err != nil || idx < 0 || int(idx) >= len(tmp) {
				return nil
			}
			data = tmp[idx]
		}
	}

	return data
}

func set(source, value interface{}, path []string) {
	m, ok := source.(map[string]interface{})
	if !ok || m == nil {
		return
	}

	for i := 0; i < len(path); i++ {
		currentKey := path[i]
		nextKey := ""
		if i < len(path)-1 {
			nextKey = path[i+1]
		}

		if idx, err := strconv.ParseInt(nextKey, 10, 64); err == nil || nextKey == "#" {
			i++

			tmp, _ := m[currentKey].([]interface{})

			if nextKey == "#" {
				if i < len(path)-1 {
					next := make(map[string]interface{})
					tmp = append(tmp, next)
					m[currentKey] = tmp
					m = next
					continue
				}
				tmp = append(tmp, value)
				m[currentKey] = tmp
				return
			}

			if len(tmp)-1 < int(idx) {
				tmp = append(tmp, make([]interface{}, int(idx+1)-len(tmp))...)
			}

			if i < len(path)-1 {
				next, ok := tmp[idx].(map[string]interface{})
				if !ok {
					next = make(map[string]interface{})
					tmp[idx] = next
				}
				m[currentKey] = tmp
				m = next
				continue
			}

			tmp[idx] = value
			m[currentKey] = tmp
			return
		}

		if i < len(path)-1 {
			next, ok := m[currentKey].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				m[currentKey] = next
			}
			m = next
			continue
		}

		m[currentKey] = value
	}
}

// Defaults used throughout the engine when a Policy does not override them.
const (
	// DefaultBufferSize for a vertex's inbound record buffer.
	DefaultBufferSize = 1024
	// DefaultCloseTimeout bounds how long the executor waits for in-flight
	// records to drain from a vertex's buffer during shutdown.
	DefaultCloseTimeout = 10 * time.Second
	// DefaultScale is the initial fan-out width of a vertex's callback.
	DefaultScale = 1
)
