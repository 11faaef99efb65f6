/*
包 migration 管理持久记忆表 memory_records 的 Schema 迁移，
基于 golang-migrate，支持 PostgreSQL 与 MySQL。

各方言的 SQL 文件内嵌在二进制中（migrations/<dialect>），经 iofs
source 交给 golang-migrate。sqlite 不走 SQL 迁移，由 gorm AutoMigrate
在记忆管理器打开时建表，Open 返回 ErrUseAutoMigrate 由调用方回退。

  - Dialect：方言解析、DSN 拼接与内嵌 source。
  - SQLMigrator：Up/Steps/Reset/Force/Version/Plan。
  - CLI：为 agentwrap migrate 子命令格式化输出。
*/
package migration
