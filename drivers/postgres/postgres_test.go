package postgres

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/db-journey/nomad/nomaderr"
)

func TestQuoteIdent(t *testing.T) {
	d := &Driver{schema: "public", table: "nomad_migrations"}
	assert.Equal(t, `"simple"`, d.QuoteIdent("simple"))
	assert.Equal(t, `"weird""name"`, d.QuoteIdent(`weird"name`))
}

func TestNowExpressionAndTransactionalDDL(t *testing.T) {
	d := &Driver{}
	assert.Equal(t, "NOW()", d.NowExpression())
	assert.True(t, d.SupportsTransactionalDDL())
}

func TestMapErrorClassifiesConnectionException(t *testing.T) {
	d := &Driver{}
	pqErr := &pq.Error{Severity: "FATAL", Code: "08006", Message: "connection failure"}
	mapped := d.MapError(pqErr)
	nerr, ok := mapped.(*nomaderr.Error)
	assert.True(t, ok)
	assert.Equal(t, nomaderr.KindConnection, nerr.Kind())
}

func TestMapErrorClassifiesOrdinarySQLError(t *testing.T) {
	d := &Driver{}
	pqErr := &pq.Error{Severity: "ERROR", Code: "42601", Message: "syntax error"}
	mapped := d.MapError(pqErr)
	nerr, ok := mapped.(*nomaderr.Error)
	assert.True(t, ok)
	assert.Equal(t, nomaderr.KindSQL, nerr.Kind())
}

func TestMapErrorClassifiesAuthenticationFailure(t *testing.T) {
	d := &Driver{}
	for _, code := range []pq.ErrorCode{"28P01", "28000"} {
		pqErr := &pq.Error{Severity: "FATAL", Code: code, Message: "password authentication failed"}
		mapped := d.MapError(pqErr)
		nerr, ok := mapped.(*nomaderr.Error)
		assert.True(t, ok)
		assert.Equal(t, nomaderr.KindConnection, nerr.Kind(), "code %s", code)
	}
}

func TestMapErrorClassifiesDatabaseDoesNotExist(t *testing.T) {
	d := &Driver{}
	pqErr := &pq.Error{Severity: "FATAL", Code: "3D000", Message: "database \"missing\" does not exist"}
	mapped := d.MapError(pqErr)
	nerr, ok := mapped.(*nomaderr.Error)
	assert.True(t, ok)
	assert.Equal(t, nomaderr.KindConnection, nerr.Kind())
}

func TestMapErrorClassifiesCannotConnectNow(t *testing.T) {
	d := &Driver{}
	pqErr := &pq.Error{Severity: "FATAL", Code: "57P03", Message: "the database system is starting up"}
	mapped := d.MapError(pqErr)
	nerr, ok := mapped.(*nomaderr.Error)
	assert.True(t, ok)
	assert.Equal(t, nomaderr.KindConnection, nerr.Kind())
}

func TestMapErrorClassifiesMalformedConnStringAsParseConfig(t *testing.T) {
	d := &Driver{}
	mapped := d.MapError(errors.New("pq: invalid connection option \"foo\""))
	nerr, ok := mapped.(*nomaderr.Error)
	assert.True(t, ok)
	assert.Equal(t, nomaderr.KindParseConfig, nerr.Kind())
}

func TestMapErrorClassifiesGenericNonPQErrorAsConnection(t *testing.T) {
	d := &Driver{}
	mapped := d.MapError(errors.New("dial tcp: connection refused"))
	nerr, ok := mapped.(*nomaderr.Error)
	assert.True(t, ok)
	assert.Equal(t, nomaderr.KindConnection, nerr.Kind())
}

func TestAdvisoryLockIDIsDeterministicAndPositive(t *testing.T) {
	id1, err := advisoryLockID("deadbeefcafebabe")
	assert.NoError(t, err)
	id2, err := advisoryLockID("deadbeefcafebabe")
	assert.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.GreaterOrEqual(t, id1, int64(0))

	_, err = advisoryLockID("ab")
	assert.Error(t, err)
}

func TestStatementPositionFromPQError(t *testing.T) {
	pqErr := &pq.Error{Position: "17"}
	assert.Equal(t, 17, statementPosition(pqErr))
	assert.Equal(t, -1, statementPosition(nil))
}
