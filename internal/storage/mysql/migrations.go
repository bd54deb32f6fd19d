package mysql

import (
	"bufio"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"TravelAgent-Chain/deploy/migrations"
	xerrors "TravelAgent-Chain/internal/errors"
)

var embeddedSchema fs.FS = migrations.Files

// travelTables 是服务启动所依赖的表，缺少任一即视为迁移集不完整。
var travelTables = []string{"bookings", "travel_plans", "referral_index", "agent_runs"}

var createTablePattern = regexp.MustCompile(`(?i)^CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?` + "`?" + `([A-Za-z0-9_]+)`)

// schemaStep 是一个按版本号执行的建表文件。
type schemaStep struct {
	version    int
	name       string
	checksum   string
	statements []string
	tables     []string
}

func migrateSchema(ctx context.Context, db *sql.DB) error {
	steps, err := loadSchemaSteps(embeddedSchema)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS travel_schema_versions (
        version INT NOT NULL PRIMARY KEY,
        name VARCHAR(255) NOT NULL,
        checksum CHAR(64) NOT NULL,
        applied_at BIGINT NOT NULL
)`); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建 travel_schema_versions 表失败")
	}

	applied, err := loadAppliedSteps(ctx, db)
	if err != nil {
		return err
	}

	for _, step := range steps {
		if checksum, ok := applied[step.version]; ok {
			if checksum != step.checksum {
				return xerrors.New(xerrors.CodeStorageFailure,
					fmt.Sprintf("迁移 %s 已应用但内容已变更", step.name),
					xerrors.WithMetadata("version", strconv.Itoa(step.version)),
					xerrors.WithMetadata("tables", strings.Join(step.tables, ",")))
			}
			continue
		}
		if err := applyStep(ctx, db, step); err != nil {
			return err
		}
	}
	return nil
}

// loadAppliedSteps 返回已执行版本及其校验和。
func loadAppliedSteps(ctx context.Context, db *sql.DB) (map[int]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM travel_schema_versions`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询已执行迁移失败")
	}
	defer rows.Close()

	applied := make(map[int]string)
	for rows.Next() {
		var (
			version  int
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析已执行迁移失败")
		}
		applied[version] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历已执行迁移失败")
	}
	return applied, nil
}

func applyStep(ctx context.Context, db *sql.DB, step schemaStep) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启迁移事务失败")
	}

	for _, stmt := range step.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("执行迁移 %s 失败", step.name))
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO travel_schema_versions (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`,
		step.version, step.name, step.checksum, time.Now().Unix()); err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("记录迁移 %s 失败", step.name))
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交迁移事务失败")
	}
	return nil
}

// loadSchemaSteps 读取 NNNN_name.sql 文件，按数字版本排序并校验覆盖全部业务表。
func loadSchemaSteps(fsys fs.FS) ([]schemaStep, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取迁移目录失败")
	}

	seen := make(map[int]string)
	provided := make(map[string]struct{})
	var steps []schemaStep
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()
		version, err := parseStepVersion(name)
		if err != nil {
			return nil, err
		}
		if other, dup := seen[version]; dup {
			return nil, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("迁移 %s 与 %s 版本号重复", name, other))
		}
		seen[version] = name

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("读取迁移文件 %s 失败", name))
		}
		statements := splitSQLStatements(string(content))
		if len(statements) == 0 {
			continue
		}

		step := schemaStep{version: version, name: name, statements: statements, checksum: checksumOf(statements)}
		for _, stmt := range statements {
			if m := createTablePattern.FindStringSubmatch(stmt); m != nil {
				table := strings.ToLower(m[1])
				step.tables = append(step.tables, table)
				provided[table] = struct{}{}
			}
		}
		steps = append(steps, step)
	}

	for _, table := range travelTables {
		if _, ok := provided[table]; !ok {
			return nil, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("迁移集缺少 %s 表", table))
		}
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

func parseStepVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		prefix = strings.TrimSuffix(name, ".sql")
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("迁移文件 %s 缺少数字版本前缀", name))
	}
	return version, nil
}

// splitSQLStatements 去掉 -- 注释行后按分号切分。
func splitSQLStatements(content string) []string {
	var body strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}

	var statements []string
	for _, stmt := range strings.Split(body.String(), ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func checksumOf(statements []string) string {
	h := sha256.New()
	for _, stmt := range statements {
		h.Write([]byte(strings.Join(strings.Fields(stmt), " ")))
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
