package types

import "testing"

func TestSignerCorpusAddRejectsRepeats(t *testing.T) {
	c := NewSignerCorpus(1)
	first := &Sample{Signer: 1, Kind: Original, Index: 1, Path: "original_1_1.png", Digest: "aa"}
	if !c.Add(first) {
		t.Fatal("first sample rejected")
	}
	for name, s := range map[string]*Sample{
		"same sample": first,
		"same path":   {Signer: 1, Kind: Original, Index: 2, Path: "original_1_1.png", Digest: "bb"},
		"same digest": {Signer: 1, Kind: Original, Index: 3, Path: "original_1_3.png", Digest: "aa"},
		"forged copy": {Signer: 1, Kind: Forgery, Index: 1, Path: "forgeries_1_1.png", Digest: "aa"},
	} {
		if c.Add(s) {
			t.Errorf("%s: repeated sample accepted", name)
		}
	}
	if !c.Add(&Sample{Signer: 1, Kind: Forgery, Index: 1, Path: "forgeries_1_1.png", Digest: "cc"}) {
		t.Fatal("distinct forgery rejected")
	}
	if len(c.Originals) != 1 || len(c.Forgeries) != 1 {
		t.Fatalf("corpus has %d originals, %d forgeries; want 1 and 1", len(c.Originals), len(c.Forgeries))
	}
}

func TestSignerCorpusAddWithoutPathOrDigest(t *testing.T) {
	c := &SignerCorpus{Signer: 2}
	a := &Sample{Signer: 2, Kind: Original}
	b := &Sample{Signer: 2, Kind: Original}
	if !c.Add(a) || !c.Add(b) {
		t.Fatal("distinct anonymous samples rejected")
	}
	if c.Add(a) {
		t.Fatal("same anonymous sample accepted twice")
	}
	if len(c.Originals) != 2 {
		t.Fatalf("originals = %d, want 2", len(c.Originals))
	}
}
