package cli

import (
	"strings"
	"testing"
)

func TestGroupAddListRemove(t *testing.T) {
	setupCLIHome(t)
	groupFolder = "family"
	groupName = "Family Chat"
	groupChannel = "whatsapp"

	cmd, buf := captureCmd()
	if err := runGroupAdd(cmd, []string{"123@g.us"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(buf.String(), "family") {
		t.Errorf("add output = %q", buf.String())
	}

	cmd, buf = captureCmd()
	if err := runGroupList(cmd, nil); err != nil {
		t.Fatalf("list: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "123@g.us") || !strings.Contains(out, "Family Chat") {
		t.Errorf("list output = %q", out)
	}

	cmd, _ = captureCmd()
	if err := runGroupRemove(cmd, []string{"123@g.us"}); err != nil {
		t.Fatalf("remove: %v", err)
	}

	cmd, buf = captureCmd()
	if err := runGroupList(cmd, nil); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(buf.String(), "No groups registered.") {
		t.Errorf("list output = %q", buf.String())
	}
}

func TestGroupAddRequiresFields(t *testing.T) {
	setupCLIHome(t)
	groupFolder = ""
	groupName = ""
	groupChannel = ""

	cmd, _ := captureCmd()
	if err := runGroupAdd(cmd, []string{"123@g.us"}); err == nil {
		t.Fatal("expected error for missing folder")
	}
}
