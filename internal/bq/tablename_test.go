package bq

import "testing"

func TestParseTableName(t *testing.T) {
	name, err := ParseTableName("my-project:analytics.events")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if name.Project != "my-project" || name.Dataset != "analytics" || name.Table != "events" {
		t.Fatalf("name = %+v", name)
	}
	if got, want := name.String(), "my-project:analytics.events"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if got, want := name.Dotted(), "my-project.analytics.events"; got != want {
		t.Fatalf("Dotted() = %q, want %q", got, want)
	}
}

func TestParseTableNameRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"project",
		"project:dataset",
		"project:dataset.table.extra",
		":dataset.table",
		"project:.table",
		"project:dataset.",
		"a:b:c.d",
	}
	for _, s := range bad {
		if _, err := ParseTableName(s); err == nil {
			t.Fatalf("ParseTableName(%q) should fail", s)
		}
	}
}

func TestIdentQuoting(t *testing.T) {
	if got, want := Ident("order"), "`order`"; got != want {
		t.Fatalf("Ident = %q, want %q", got, want)
	}
	if got, want := Ident("weird`name"), "`weird\\`name`"; got != want {
		t.Fatalf("Ident = %q, want %q", got, want)
	}
}

func TestWithTable(t *testing.T) {
	name := TableName{Project: "p", Dataset: "d", Table: "t"}
	temp := name.WithTable("temp_1")
	if temp.Table != "temp_1" || name.Table != "t" {
		t.Fatalf("WithTable mutated the receiver: %+v %+v", name, temp)
	}
}
