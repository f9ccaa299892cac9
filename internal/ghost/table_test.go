package ghost

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morph/internal/ir"
)

const emailPattern = `^[^@\s]+@[^@\s]+\.[a-z]+$`

func emailTable(t *testing.T) *Table {
	t.Helper()
	tbl := NewTable()
	require.NoError(t, tbl.Register(&ir.TypeDecl{
		Name:  "Email",
		Base:  "String",
		Attrs: []ir.GhostAttr{{Key: "Regex", Value: ir.Str(emailPattern)}},
	}))
	return tbl
}

func TestValidateRegex(t *testing.T) {
	tbl := emailTable(t)

	assert.NoError(t, tbl.Validate("Email", ir.Str("a@b.io")))

	err := tbl.Validate("Email", ir.Str("not-an-email"))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Email", ve.Type)
	assert.Contains(t, ve.Reason, "does not match pattern")
	assert.Equal(t, ir.Str("not-an-email"), ve.Value)
}

func TestValidateRegexIgnoresNonStrings(t *testing.T) {
	tbl := emailTable(t)
	assert.NoError(t, tbl.Validate("Email", ir.Int(5)))
}

func TestValidateMinMax(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register(&ir.TypeDecl{
		Name: "Percent",
		Base: "Int",
		Attrs: []ir.GhostAttr{
			{Key: "min", Value: ir.Int(0)},
			{Key: "MAX", Value: ir.Int(100)},
			{Key: "unit", Value: ir.Str("pct")},
		},
	}))

	assert.NoError(t, tbl.Validate("Percent", ir.Int(0)))
	assert.NoError(t, tbl.Validate("Percent", ir.Int(100)))
	assert.NoError(t, tbl.Validate("Percent", ir.Float(99.5)))

	err := tbl.Validate("Percent", ir.Int(-1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Value -1 is less than minimum 0")

	err = tbl.Validate("Percent", ir.Int(101))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Value 101 is greater than maximum 100")

	assert.Len(t, tbl.Tags("Percent"), 2, "unknown attribute keys are ignored")
}

func TestValidateUnknownType(t *testing.T) {
	err := NewTable().Validate("Nope", ir.Int(1))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRegisterInvalidRegex(t *testing.T) {
	err := NewTable().Register(&ir.TypeDecl{
		Name:  "Bad",
		Base:  "String",
		Attrs: []ir.GhostAttr{{Key: "regex", Value: ir.Str("([")}},
	})
	assert.Error(t, err)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	tbl := emailTable(t)
	err := tbl.Register(&ir.TypeDecl{Name: "Email", Base: "String"})
	assert.Error(t, err)
}

func TestEraseRetainsUnprovableRegex(t *testing.T) {
	tbl := emailTable(t)

	res, err := tbl.Erase("Email", ir.KindString)
	require.NoError(t, err)
	require.Len(t, res.Residual, 1, "an anchored regex cannot be proven for all strings")

	assert.NoError(t, res.Check(ir.Str("x@y.com")))
	assert.True(t, IsValidationError(res.Check(ir.Str("nope"))))

	state, ok := tbl.State("Email")
	require.True(t, ok)
	assert.Equal(t, StateErased, state)
}

func TestEraseDropsVacuousAndTautologicalPredicates(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Annotate("Any", ir.KindString, MustRegex(`a*`)))
	require.NoError(t, tbl.Annotate("Any", ir.KindString, Min(math.Inf(-1))))

	res, err := tbl.Erase("Any", ir.KindString)
	require.NoError(t, err)
	assert.Empty(t, res.Residual, "a*, unanchored, matches every string")

	tbl2 := emailTable(t)
	res, err = tbl2.Erase("Email", ir.KindInt)
	require.NoError(t, err)
	assert.Empty(t, res.Residual, "regex is vacuous over i64")
}

func TestEraseMinMaxOverIntDomain(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Annotate("Wide", ir.KindInt, Min(math.MinInt64)))
	require.NoError(t, tbl.Annotate("Narrow", ir.KindInt, Max(10)))

	res, err := tbl.Erase("Wide", ir.KindInt)
	require.NoError(t, err)
	assert.Empty(t, res.Residual)

	res, err = tbl.Erase("Narrow", ir.KindInt)
	require.NoError(t, err)
	assert.Len(t, res.Residual, 1)
}

func TestErasedTypeIsImmutable(t *testing.T) {
	tbl := emailTable(t)
	_, err := tbl.Erase("Email", ir.KindString)
	require.NoError(t, err)

	err = tbl.Annotate("Email", ir.KindString, MustRegex(`x`))
	assert.ErrorIs(t, err, ErrErased)
}

func TestEraseIsCachedPerKind(t *testing.T) {
	tbl := emailTable(t)
	r1, err := tbl.Erase("Email", ir.KindString)
	require.NoError(t, err)
	r2, err := tbl.Erase("Email", ir.KindString)
	require.NoError(t, err)
	assert.Same(t, r1, r2)
}

func TestLayoutConflict(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Annotate("Point", ir.KindRecord, Packed(true)))

	align8, err := Align(8)
	require.NoError(t, err)
	err = tbl.Annotate("Point", ir.KindRecord, align8)
	require.Error(t, err)
	assert.True(t, IsConflictError(err))

	_, err = tbl.Erase("Point", ir.KindRecord)
	assert.True(t, IsConflictError(err), "a conflicted type refuses erasure")
}

func TestLayoutConflictSameDirective(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Annotate("P", ir.KindRecord, Order("a", "b")))
	require.NoError(t, tbl.Annotate("P", ir.KindRecord, Order("a", "b")), "repeating a directive is not a conflict")
	assert.True(t, IsConflictError(tbl.Annotate("P", ir.KindRecord, Order("b", "a"))))
}

func TestEraseComputesLayout(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register(&ir.TypeDecl{
		Name:   "Packet",
		Base:   "Record",
		Fields: []ir.FieldDecl{{Name: "flag", Type: "Bool"}, {Name: "id", Type: "Int"}},
	}))

	res, err := tbl.Erase("Packet", ir.KindRecord)
	require.NoError(t, err)
	require.NotNil(t, res.Layout)
	off, ok := res.Layout.Offset("id")
	require.True(t, ok)
	assert.Equal(t, 8, off, "natural alignment pads the bool")
	assert.Equal(t, 16, res.Layout.Size)

	packedTbl := NewTable()
	require.NoError(t, packedTbl.Register(&ir.TypeDecl{
		Name:   "Packet",
		Base:   "Record",
		Fields: []ir.FieldDecl{{Name: "flag", Type: "Bool"}, {Name: "id", Type: "Int"}},
		Attrs: []ir.GhostAttr{
			{Key: "packed", Value: ir.Bool(true)},
			{Key: "order", Value: ir.Str("id, flag")},
		},
	}))
	res, err = packedTbl.Erase("Packet", ir.KindRecord)
	require.NoError(t, err)
	assert.Equal(t, 9, res.Layout.Size)
	assert.Equal(t, "id", res.Layout.Slots[0].Name)
}

func TestAlignValidation(t *testing.T) {
	_, err := Align(3)
	assert.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("Refuse")
	require.NoError(t, err)
	assert.Equal(t, PolicyRefuse, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyRetain, p)

	_, err = ParsePolicy("drop")
	assert.Error(t, err)
}
