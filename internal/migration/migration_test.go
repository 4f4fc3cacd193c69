package migration

import (
	"io/fs"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"github.com/smallbiznis/etimsbridge/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/migrator"
	"gorm.io/gorm/schema"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups, err := fs.Glob(sub, "*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(sub, "*.down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}

func TestRunAutoMigratesSQLite(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = Run(conn, db.Config{Type: db.TypeSQLite, AutoMigrate: true}, zap.NewNop())
	require.NoError(t, err)

	for _, table := range []string{
		"compliance_items",
		"compliance_connections",
		"compliance_documents",
		"compliance_lines",
		"compliance_events",
	} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
	assert.True(t, conn.Migrator().HasIndex("compliance_documents", "ux_compliance_documents_idempotency_key"))
}

func TestRunSkipsWhenDisabled(t *testing.T) {
	assert.NoError(t, Run(nil, db.Config{Type: db.TypePostgres}, zap.NewNop()))
	_, err := RunMigrations(nil)
	assert.Error(t, err)
}

// MySQL rejects TEXT columns in keys without a prefix length and TEXT columns
// with literal defaults.
func TestModelColumnsAreMySQLCompatible(t *testing.T) {
	conn := &gorm.DB{Config: &gorm.Config{Dialector: mysql.Dialector{Config: &mysql.Config{}}}}

	for _, model := range models() {
		s := mustParse(t, model)
		for _, field := range s.Fields {
			if field.DBName == "" {
				continue
			}
			dataType := strings.ToLower(mysqlColumnType(conn, field))
			name := s.Table + "." + field.DBName

			keyed := field.PrimaryKey || field.Unique ||
				field.TagSettings["INDEX"] != "" || field.TagSettings["UNIQUEINDEX"] != ""
			if keyed || field.HasDefaultValue {
				assert.NotContains(t, dataType, "text", name)
				assert.NotContains(t, dataType, "json", name)
			}
			assert.NotContains(t, dataType, "jsonb", name)
		}
	}

	event := mustParse(t, &domain.ComplianceEvent{})
	assert.Equal(t, "JSON", mysqlColumnType(conn, event.LookUpField("payload_snapshot")))
	document := mustParse(t, &domain.ComplianceDocument{})
	assert.Equal(t, "varchar(255)", mysqlColumnType(conn, document.LookUpField("idempotency_key")))
}

func mustParse(t *testing.T, model any) *schema.Schema {
	t.Helper()
	s, err := schema.Parse(model, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	return s
}

// mysqlColumnType resolves a column type the way the gorm migrator does.
func mysqlColumnType(conn *gorm.DB, field *schema.Field) string {
	if typer, ok := reflect.New(field.IndirectFieldType).Interface().(migrator.GormDataTypeInterface); ok {
		if dataType := typer.GormDBDataType(conn, field); dataType != "" {
			return dataType
		}
	}
	return conn.Dialector.DataTypeOf(field)
}
