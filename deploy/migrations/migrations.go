// Package migrations embeds the MySQL schema files applied at startup.
package migrations

import "embed"

// Files 包含预订、行程、推荐索引与异步运行的建表语句，按文件名前缀排序执行。
//
//go:embed *.sql
var Files embed.FS
