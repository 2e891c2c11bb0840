package engine_test

import (
	"errors"
	"testing"

	"github.com/seantiz/factory-scheduler/internal/engine"
)

func TestParseScenarioTableInfersTypes(t *testing.T) {
	data := "\ufeffname, population, rate, elitism, label, sparse, mixed\n" +
		"1,10,0.5,true,x,,1\n" +
		"two,20,1,FALSE,y,3,true\n"

	rows, err := engine.ParseScenarioTable([]byte(data))
	if err != nil {
		t.Fatalf("ParseScenarioTable: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	first := rows[0]
	checks := []struct {
		key  string
		want any
	}{
		{"name", "1"},
		{"population", int64(10)},
		{"rate", 0.5},
		{"elitism", true},
		{"label", "x"},
		{"sparse", nil},
		{"mixed", "1"},
	}
	for _, c := range checks {
		if got := first[c.key]; got != c.want {
			t.Errorf("row[0][%q] = %#v, want %#v", c.key, got, c.want)
		}
	}
	if got := rows[1]["rate"]; got != 1.0 {
		t.Errorf("row[1][rate] = %#v, want float 1", got)
	}
	if got := rows[1]["elitism"]; got != false {
		t.Errorf("row[1][elitism] = %#v, want false", got)
	}
	if got := rows[1]["sparse"]; got != int64(3) {
		t.Errorf("row[1][sparse] = %#v, want 3", got)
	}
}

func TestParseScenarioTableErrors(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"no name column": "scenario,population\nfast,10\n",
		"ragged row":     "name,population\nfast,10,extra\n",
		"duplicate col":  "name,name\na,b\n",
		"blank header":   "name,\na,b\n",
		"bad quoting":    "name\n\"unterminated\n",
	}
	for desc, data := range tests {
		if _, err := engine.ParseScenarioTable([]byte(data)); !errors.Is(err, engine.ErrMalformedInput) {
			t.Errorf("%s: error = %v, want ErrMalformedInput", desc, err)
		}
	}
}

func TestParseScenarioTableHeaderOnly(t *testing.T) {
	rows, err := engine.ParseScenarioTable([]byte("name,population\n"))
	if err != nil {
		t.Fatalf("ParseScenarioTable: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %d, want 0", len(rows))
	}
}
