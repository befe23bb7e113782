package transport

import (
	"regexp"
	"strings"
)

const (
	protocolHttp  = "http"
	protocolHttps = "https"
	protocolWs    = "ws"
	protocolWss   = "wss"
)

var (
	ipv4Reg           = regexp.MustCompile(`^(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)(?:\.(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)){3}(?::\d{2,5})?`)
	protocolHttpReg   = regexp.MustCompile(`^(?:https|http)://`)
	protocolSocketReg = regexp.MustCompile(`^(?:wss|ws)://`)
	protocolSecureReg = regexp.MustCompile(`^(?:https|wss)://`)
)

func IsSocketUrl(url string) bool {
	return protocolSocketReg.MatchString(url)
}

func IsHttpUrl(url string) bool {
	return protocolHttpReg.MatchString(url)
}

func HasProtocol(url string) bool {
	return IsSocketUrl(url) || IsHttpUrl(url)
}

func IsIpDomain(url string) bool {
	return ipv4Reg.MatchString(url)
}

// IsSecureUrl reports true for https/wss urls and for bare host names, which
// are assumed to sit behind TLS. Plain IPv4 addresses are not.
func IsSecureUrl(url string) bool {
	return protocolSecureReg.MatchString(url) || (!HasProtocol(url) && !IsIpDomain(url))
}

func SelectProtocol(isHttp bool, isSecure bool) string {
	switch {
	case isHttp && isSecure:
		return protocolHttps + "://"
	case isHttp:
		return protocolHttp + "://"
	case isSecure:
		return protocolWss + "://"
	}
	return protocolWs + "://"
}

func ConvertHttpToWS(url string) string {
	switch {
	case strings.HasPrefix(url, protocolHttps+"://"):
		return protocolWss + url[len(protocolHttps):]
	case strings.HasPrefix(url, protocolHttp+"://"):
		return protocolWs + url[len(protocolHttp):]
	}
	return url
}

func ConvertWSToHttp(url string) string {
	switch {
	case strings.HasPrefix(url, protocolWss+"://"):
		return protocolHttps + url[len(protocolWss):]
	case strings.HasPrefix(url, protocolWs+"://"):
		return protocolHttp + url[len(protocolWs):]
	}
	return url
}

// JoinUrl appends path segments to base with exactly one slash between them.
func JoinUrl(base string, segments ...string) string {
	url := base
	for _, segment := range segments {
		segment = strings.Trim(segment, "/")
		if segment == "" {
			continue
		}
		url = strings.TrimRight(url, "/") + "/" + segment
	}
	return url
}
