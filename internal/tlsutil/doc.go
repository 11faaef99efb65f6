/*
包 tlsutil 提供出站连接统一的 TLS 加固配置。

OpenAI Provider（以及复用其客户端的嵌入器）通过 HTTPClient 建立连接，
Redis 在 redis.tls 开启时使用 ClientConfig。最低版本 TLS 1.2，
TLS 1.2 下仅允许 AEAD 密码套件。
*/
package tlsutil
