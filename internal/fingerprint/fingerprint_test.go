package fingerprint

import "testing"

func _newMockPoint(b byte) (p [32]byte) {
	for i := range p {
		p[i] = b
	}
	return
}

func TestOfIsDeterministic(t *testing.T) {
	p := _newMockPoint(0x11)
	a := Of(p)
	b := Of(p)
	if a != b {
		t.Fatal("Of() is not deterministic for identical input")
	}
}

func TestOfDiffersAcrossPoints(t *testing.T) {
	a := Of(_newMockPoint(0x11))
	b := Of(_newMockPoint(0x22))
	if a == b {
		t.Fatal("distinct public points produced identical fingerprints")
	}
}

func TestStringFormat(t *testing.T) {
	fp := Of(_newMockPoint(0xAB))
	s := fp.String()
	if len(s) != Len*3-1 {
		t.Fatalf("unexpected fingerprint string length: %d (%q)", len(s), s)
	}
}

func TestExpandDiffersByLabel(t *testing.T) {
	secret := _newMockPoint(0x77)
	a, err := Expand(secret, "control")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Expand(secret, "session")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("Expand() produced identical output for different labels")
	}
}
