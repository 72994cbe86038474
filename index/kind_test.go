package index

import "testing"

func TestClassifyKind(t *testing.T) {
	var table = []struct {
		sourceDist bool
		filename   string
		want       DistKind
	}{
		// the source dist marker wins over any extension
		{true, "spam-1.0.exe", KindSdist},
		{true, "spam-1.0.tar.gz", KindSdist},
		{false, "spam-1.0.rmp", KindRPM},
		{false, "spam-1.0.srmp", KindRPM},
		{false, "spam-1.0.exe", KindWininst},
		{false, "spam-1.0-py2.7.egg", KindEgg},
		{false, "spam-1.0.dmg", KindDmg},
		{false, "spam-1.0.msi", KindDumb},
		{false, "spam-1.0.whl", KindDumb},
		{false, "SPAM-1.0.EXE", KindWininst},
	}
	for _, tab := range table {
		got := ClassifyKind(tab.sourceDist, tab.filename)
		if got != tab.want {
			t.Errorf("ClassifyKind(%v, %s): Received %s, expected %s",
				tab.sourceDist, tab.filename, got, tab.want)
		}
	}
}
