// Package tlsutil 集中管理出站连接的 TLS 参数：模型服务 HTTP 客户端与 Redis。
package tlsutil

import (
	"crypto/tls"
	"net/http"
	"slices"
	"time"
)

// aeadSuites TLS 1.2 下允许的密码套件，TLS 1.3 套件由标准库固定
var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// ClientConfig 返回 TLS 1.2+、仅 AEAD 套件的客户端配置。
// serverName 为空时由调用方（http.Transport / go-redis）按地址推断。
func ClientConfig(serverName string) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: slices.Clone(aeadSuites),
		ServerName:   serverName,
	}
}

// Transport 在 http.DefaultTransport 的基础上收紧 TLS、放宽单主机空闲连接
func Transport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = ClientConfig("")
	t.MaxIdleConnsPerHost = 20
	return t
}

// HTTPClient timeout 为 0 时不限时
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: Transport()}
}
