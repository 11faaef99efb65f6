/*
包 database 打开持久记忆使用的 GORM 数据库并管理连接池。

Open 按驱动选择方言：sqlite 使用纯 Go 的 glebarez/sqlite，postgres 与
mysql 使用 gorm 官方驱动。Connect 在此之上建立 Pool：应用 Limits、
后台定期探活，并通过 StatsReporter 把连接数写入 Prometheus。
*/
package database
