package unitname

import "testing"

func TestInstantiateRoundTrip(t *testing.T) {
	name := "foo@bar.service"
	tmpl, ok := TemplateName(name)
	if !ok {
		t.Fatalf("TemplateName(%q) not ok", name)
	}
	if tmpl != "foo@.service" {
		t.Fatalf("TemplateName(%q) = %q, want foo@.service", name, tmpl)
	}
	got, err := Instantiate(tmpl, "bar")
	if err != nil {
		t.Fatal(err)
	}
	if got != name {
		t.Fatalf("Instantiate(%q, bar) = %q, want %q", tmpl, got, name)
	}
}

func TestDecomposeNonTemplate(t *testing.T) {
	if _, ok := Decompose("plain.service"); ok {
		t.Fatal("plain.service has no @, should not decompose")
	}
}

func TestSpecifiersExpand(t *testing.T) {
	s := SpecifiersFor("app@db-1.service")
	got := s.Expand("instance=%i name=%n prefix=%p literal=%%")
	want := "instance=db-1 name=app@db-1.service prefix=app literal=%"
	if got != want {
		t.Fatalf("Expand() = %q, want %q", got, want)
	}
}

func TestSpecifiersUnknownVerbPassesThrough(t *testing.T) {
	s := SpecifiersFor("app@db-1.service")
	got := s.Expand("%q")
	if got != "%q" {
		t.Fatalf("Expand(%%q) = %q, want unchanged %%q", got)
	}
}
