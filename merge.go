/*
Copyright 2024 Blnk Finance Authors.

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

package beacon

// MergeFields deep merges src into dst and returns dst. When both sides hold an
// object under the same key the objects are merged key by key; any other
// incoming value replaces the existing one. dst may be nil.
func MergeFields(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}

	for key, incoming := range src {
		incomingObj, incomingIsObj := incoming.(map[string]interface{})
		existingObj, existingIsObj := dst[key].(map[string]interface{})

		if incomingIsObj && existingIsObj {
			dst[key] = MergeFields(existingObj, incomingObj)
			continue
		}
		dst[key] = copyValue(incoming)
	}
	return dst
}

// copyValue detaches nested objects and arrays from the caller's maps.
func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[k] = copyValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = copyValue(inner)
		}
		return out
	default:
		return v
	}
}
