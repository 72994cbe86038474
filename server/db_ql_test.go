package server

import (
	"testing"
	"time"

	"github.com/pindex/pindex/index"
)

// The "memory" database is shared within the process, so these tests use
// names no other test touches and clean up the mirrors they add.

func TestQlPackages(t *testing.T) {
	qc, err := NewQlDB("memory")
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}

	pkg := &index.Package{
		Name:    "dbtest-pkg",
		Created: time.Now(),
		Owners:  []string{"someone"},
		Releases: []*index.Release{
			{Version: "0.1"},
		},
	}
	if err := qc.SavePackage(pkg); err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	result := qc.LookupPackage("dbtest-pkg")
	if result == nil {
		t.Fatal("Received nil, expected the package")
	}
	if result.Release("0.1") == nil {
		t.Error("release missing after round trip")
	}

	// search falls back to case-insensitive and underscore forms
	if qc.SearchPackage("DBTEST-PKG") == nil {
		t.Error("case-insensitive search failed")
	}
	if qc.SearchPackage("dbtest_pkg") == nil {
		t.Error("underscore search failed")
	}
	if qc.SearchPackage("dbtest-missing") != nil {
		t.Error("found a package which does not exist")
	}

	// saving again updates in place
	pkg.Releases = append(pkg.Releases, &index.Release{Version: "0.2"})
	if err := qc.SavePackage(pkg); err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	result = qc.LookupPackage("dbtest-pkg")
	if result == nil || len(result.Releases) != 2 {
		t.Errorf("Received %#v", result)
	}
}

func TestQlUsers(t *testing.T) {
	qc, err := NewQlDB("memory")
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}

	u := &index.User{Username: "dbtest-user", Email: "dbtest@example.com"}
	if err := qc.SaveUser(u); err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	if qc.FindUserByUsername("dbtest-user") == nil {
		t.Error("username lookup failed")
	}
	if qc.FindUserByEmail("dbtest@example.com") == nil {
		t.Error("email lookup failed")
	}
	if qc.FindUserByUsername("dbtest-nobody") != nil {
		t.Error("found a user which does not exist")
	}

	// save again with a new email
	u.Email = "dbtest2@example.com"
	if err := qc.SaveUser(u); err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	found := qc.FindUserByUsername("dbtest-user")
	if found == nil || found.Email != "dbtest2@example.com" {
		t.Errorf("Received %#v", found)
	}
}

func TestQlClassifiers(t *testing.T) {
	qc, err := NewQlDB("memory")
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}

	// get-or-create: adding twice keeps one row
	qc.EnsureClassifier("Topic :: DB Test")
	qc.EnsureClassifier("Topic :: DB Test")
	names, err := qc.Classifiers()
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	var count int
	for _, n := range names {
		if n == "Topic :: DB Test" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Received %d rows, expected 1", count)
	}
}

func TestQlMirrors(t *testing.T) {
	qc, err := NewQlDB("memory")
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}

	id1, err := qc.AddMirror("http://one.example/", true)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	id2, err := qc.AddMirror("http://two.example/", true)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	defer qc.SetMirrorEnabled(id1, false)
	defer qc.SetMirrorEnabled(id2, false)
	if id2 <= id1 {
		t.Errorf("Received ids %d, %d", id1, id2)
	}

	if err := qc.SetMirrorEnabled(id1, false); err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	enabled, err := qc.EnabledMirrors()
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	for _, m := range enabled {
		if m.ID == id1 {
			t.Error("disabled mirror still listed as enabled")
		}
	}

	if err := qc.AppendMirrorLog(id2, "Redirect to http://two.example/simple/x"); err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	logs, err := qc.MirrorLogs(id2)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	if len(logs) != 1 || logs[0].Action != "Redirect to http://two.example/simple/x" {
		t.Errorf("Received %#v", logs)
	}
}
