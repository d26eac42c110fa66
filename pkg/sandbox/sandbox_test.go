package sandbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandbox_GrantAndCheck(t *testing.T) {
	sb := New("agent-1")

	_, err := sb.Grant(CapFileRead, Constraints{PathPatterns: []string{"/work/**"}}, true, nil, "system")
	require.NoError(t, err)

	result := sb.Check(CapFileRead, CheckOptions{Path: "/work/project/main.go"})
	assert.True(t, result.Allowed)

	result = sb.Check(CapFileRead, CheckOptions{Path: "/etc/passwd"})
	assert.False(t, result.Allowed)
}

func TestSandbox_Check_DeniesSymlinkEscapeOutOfGrantedTree(t *testing.T) {
	root := t.TempDir()
	work := filepath.Join(root, "work")
	outside := filepath.Join(root, "secret")
	require.NoError(t, os.Mkdir(work, 0o755))
	require.NoError(t, os.Mkdir(outside, 0o755))
	target := filepath.Join(outside, "shadow")
	require.NoError(t, os.WriteFile(target, []byte("secret"), 0o600))

	escape := filepath.Join(work, "escape")
	require.NoError(t, os.Symlink(target, escape))

	sb := New("agent-1")
	_, err := sb.Grant(CapFileRead, Constraints{PathPatterns: []string{work + "/**"}}, true, nil, "system")
	require.NoError(t, err)

	result := sb.Check(CapFileRead, CheckOptions{Path: escape})
	assert.False(t, result.Allowed)
}

func TestSandbox_Check_AllowsSymlinkStayingInsideGrantedTree(t *testing.T) {
	root := t.TempDir()
	work := filepath.Join(root, "work")
	real := filepath.Join(root, "work", "real")
	require.NoError(t, os.Mkdir(work, 0o755))
	require.NoError(t, os.WriteFile(real, []byte("ok"), 0o600))

	link := filepath.Join(work, "link")
	require.NoError(t, os.Symlink(real, link))

	sb := New("agent-1")
	_, err := sb.Grant(CapFileRead, Constraints{PathPatterns: []string{work + "/**"}}, true, nil, "system")
	require.NoError(t, err)

	result := sb.Check(CapFileRead, CheckOptions{Path: link})
	assert.True(t, result.Allowed)
}

func TestResolveSymlinks_NonExistentDescendantResolvesExistingAncestor(t *testing.T) {
	root := t.TempDir()
	real := filepath.Join(root, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(root, "link")
	require.NoError(t, os.Symlink(real, link))

	resolved := resolveSymlinks(filepath.Join(link, "not-yet-created.txt"))
	assert.Equal(t, filepath.Join(real, "not-yet-created.txt"), resolved)
}

func TestSandbox_Grant_RejectsUnknownCapability(t *testing.T) {
	sb := New("agent-1")
	_, err := sb.Grant(Capability("bogus:thing"), Constraints{}, false, nil, "system")
	require.Error(t, err)
}

func TestSandbox_Check_NoGrant(t *testing.T) {
	sb := New("agent-1")
	result := sb.Check(CapShellExecute, CheckOptions{})
	assert.False(t, result.Allowed)
}

func TestSandbox_Check_Expired(t *testing.T) {
	sb := New("agent-1")
	past := time.Now().Add(-time.Hour)
	_, err := sb.Grant(CapMemoryRead, Constraints{}, false, &past, "system")
	require.NoError(t, err)

	result := sb.Check(CapMemoryRead, CheckOptions{})
	assert.False(t, result.Allowed)
}

// Scenario 5 from spec: delegation narrows scope; out-of-scope requests refuse.
func TestSandbox_Delegate_Intersection(t *testing.T) {
	sb := New("agent-parent")
	parent, err := sb.Grant(CapFileRead, Constraints{PathPatterns: []string{"/work/**"}}, true, nil, "system")
	require.NoError(t, err)

	child, err := sb.Delegate(parent.ID, Constraints{PathPatterns: []string{"/work/project/**"}}, "agent-child")
	require.NoError(t, err)
	assert.Equal(t, []string{"/work/project/**"}, child.Constraints.PathPatterns)

	result := sb.Check(CapFileRead, CheckOptions{Path: "/work/project/file.go"})
	assert.True(t, result.Allowed)

	_, err = sb.Delegate(parent.ID, Constraints{PathPatterns: []string{"/etc/**"}}, "agent-child")
	assert.Error(t, err)
}

func TestSandbox_Delegate_NonDelegatableRejected(t *testing.T) {
	sb := New("agent-parent")
	parent, err := sb.Grant(CapFileRead, Constraints{}, false, nil, "system")
	require.NoError(t, err)

	_, err = sb.Delegate(parent.ID, Constraints{}, "agent-child")
	assert.Error(t, err)
}

func TestSandbox_Revoke_Transitive(t *testing.T) {
	sb := New("agent-parent")
	parent, err := sb.Grant(CapFileRead, Constraints{PathPatterns: []string{"/work/**"}}, true, nil, "system")
	require.NoError(t, err)
	child, err := sb.Delegate(parent.ID, Constraints{}, "agent-child")
	require.NoError(t, err)

	sb.Revoke(parent.ID)

	assert.False(t, sb.Check(CapFileRead, CheckOptions{Path: "/work/x"}).Allowed)
	assert.Empty(t, sb.Grants())
	_ = child
}

func TestSandbox_CheckHostConstraint_BlocksSSRFDefaults(t *testing.T) {
	sb := New("agent-1")
	_, err := sb.Grant(CapNetworkHTTP, Constraints{HostPatterns: []string{"*"}}, false, nil, "system")
	require.NoError(t, err)

	assert.False(t, sb.Check(CapNetworkHTTP, CheckOptions{Host: "169.254.169.254"}).Allowed)
	assert.False(t, sb.Check(CapNetworkHTTP, CheckOptions{Host: "localhost"}).Allowed)
	assert.True(t, sb.Check(CapNetworkHTTP, CheckOptions{Host: "api.example.com"}).Allowed)
}

func TestMatchPath_DoubleStarSpansSeparators(t *testing.T) {
	assert.True(t, matchPath("/home/**/.ssh/**", "/home/u/.ssh/id_rsa"))
	assert.False(t, matchPath("/tmp/*", "/tmp/a/b"))
	assert.True(t, matchPath("/tmp/**", "/tmp/a/b"))
}

func TestMatchHost_SingleStarDoesNotSpanLabels(t *testing.T) {
	assert.True(t, matchHost("*.example.com", "api.example.com"))
	assert.False(t, matchHost("*.example.com", "api.internal.example.com"))
}

func TestIsDefaultBlockedHost_RFC1918(t *testing.T) {
	assert.True(t, IsDefaultBlockedHost("10.1.2.3"))
	assert.True(t, IsDefaultBlockedHost("192.168.1.1"))
	assert.True(t, IsDefaultBlockedHost("172.16.0.5"))
	assert.False(t, IsDefaultBlockedHost("172.32.0.5"))
	assert.False(t, IsDefaultBlockedHost("8.8.8.8"))
}

func TestIsDefaultBlockedSecret(t *testing.T) {
	assert.True(t, IsDefaultBlockedSecret("STRIPE_API_KEY"))
	assert.True(t, IsDefaultBlockedSecret("DB_PASSWORD"))
	assert.False(t, IsDefaultBlockedSecret("PUBLIC_CONFIG"))
}
