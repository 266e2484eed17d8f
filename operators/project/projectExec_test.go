package project

import (
	"errors"
	"io"
	"testing"

	"ecomdash/Expr"
	"ecomdash/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

func TestProjectExec_Init(t *testing.T) {
	names, cols := generateTestColumns()
	memSrc, _ := NewInMemoryProjectExec(names, cols)
	exprs := Expr.NewExpressions(
		Expr.NewColumnResolve("order_id"),
		Expr.NewAlias(Expr.NewColumnResolve("price"), "revenue"),
	)
	proj, err := NewProjectExec(memSrc, exprs)
	if err != nil {
		t.Fatalf("failed to create project exec: %v", err)
	}
	schema := proj.Schema()
	if schema.NumFields() != 2 || schema.Field(1).Name != "revenue" {
		t.Fatalf("unexpected schema %v", schema)
	}
	if _, err := NewProjectExec(memSrc, nil); !errors.Is(err, ErrEmptyColumnsToProject) {
		t.Fatalf("expected ErrEmptyColumnsToProject, got %v", err)
	}
	if _, err := NewProjectExec(memSrc, Expr.NewExpressions(Expr.NewColumnResolve("state"))); err == nil {
		t.Fatalf("expected error for unknown column")
	}
}

func TestProjectExec_DaysSince(t *testing.T) {
	names, cols := generateTestColumns()
	memSrc, _ := NewInMemoryProjectExec(names, cols)
	exprs := Expr.NewExpressions(
		Expr.NewColumnResolve("order_id"),
		Expr.NewAlias(Expr.NewBinaryExpr(
			Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, 19725),
			Expr.Subtraction,
			Expr.NewColumnResolve("purchase_day"),
		), "recency"),
	)
	proj, err := NewProjectExec(memSrc, exprs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := operators.Collect(proj, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := out.Columns[1].(*array.Int64)
	expected := []int64{0, 0, -1, -2, -5}
	for i, e := range expected {
		if rec.Value(i) != e {
			t.Errorf("row %d: expected %d got %d", i, e, rec.Value(i))
		}
	}
	if _, err := proj.Next(2); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if err := proj.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestProjectExec_Cast(t *testing.T) {
	names, cols := generateTestColumns()
	memSrc, _ := NewInMemoryProjectExec(names, cols)
	proj, err := NewProjectExec(memSrc, Expr.NewExpressions(
		Expr.NewAlias(Expr.NewCastExpr(Expr.NewColumnResolve("purchase_day"), arrow.PrimitiveTypes.Float64), "day"),
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rb, err := proj.Next(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rb.Columns[0].(*array.Float64).Value(4) != 19730 {
		t.Errorf("expected 19730.0")
	}
}
