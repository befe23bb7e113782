package transport

import (
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	HeaderSequence   = "Gt2-Sequence"
	HeaderAccountId  = "Gt2-AccountId"
	HeaderSerialNo   = "Gt2-SerialNo"
	HeaderToken      = "Token"
	HeaderRetryCount = "Retry-Count"
)

// HeaderMap is an insertion-ordered set of request headers. The session keeps
// one HeaderMap per logical request and reuses it across resends.
type HeaderMap struct {
	keys   []string
	values map[string]any
}

func NewHeaderMap() *HeaderMap {
	return &HeaderMap{
		values: make(map[string]any),
	}
}

func (h *HeaderMap) Set(key string, value any) *HeaderMap {
	if _, has := h.values[key]; !has {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
	return h
}

func (h *HeaderMap) Get(key string) (any, bool) {
	if h == nil {
		return nil, false
	}
	v, has := h.values[key]
	return v, has
}

func (h *HeaderMap) Len() int {
	if h == nil {
		return 0
	}
	return len(h.keys)
}

// Range calls fn for each header in insertion order until fn returns false.
func (h *HeaderMap) Range(fn func(key string, value any) bool) {
	if h == nil {
		return
	}
	for _, key := range h.keys {
		if !fn(key, h.values[key]) {
			return
		}
	}
}

func (h *HeaderMap) Retry() int {
	v, _ := h.Get(HeaderRetryCount)
	n, _ := v.(int)
	return n
}

func (h *HeaderMap) SerialNo() int64 {
	v, _ := h.Get(HeaderSerialNo)
	n, _ := v.(int64)
	return n
}

// HeaderValue renders a header value for the wire. Strings pass through and
// everything else is JSON encoded.
func HeaderValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(data)
}
