package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"GoChatLoadTest/internal/config"
)

// fakeClientScript 模拟聊天客户端：忽略(host, port)参数，
// 对"/join N"输出加入确认行，其余输入原样回显（模拟服务器广播回来）
const fakeClientScript = `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    "/join "*) printf 'joined session:%s\n' "${line#/join }" ;;
    *) printf '%s\n' "$line" ;;
  esac
done
`

// SkipIfNoShell 伪客户端依赖POSIX shell，Windows上跳过
func SkipIfNoShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake client script requires a POSIX shell")
	}
}

// WriteFakeClient 生成标准伪客户端脚本并返回其路径
func WriteFakeClient(t *testing.T) string {
	t.Helper()
	return writeScript(t, "fake-client", fakeClientScript)
}

// WriteExitingClient 生成一个启动后立即退出的伪客户端
func WriteExitingClient(t *testing.T) string {
	t.Helper()
	return writeScript(t, "exiting-client", "#!/bin/sh\nexit 1\n")
}

// WriteBurstClient 生成一个先存活delay、再连续输出lines行后立即退出的伪客户端
func WriteBurstClient(t *testing.T, delay time.Duration, lines int) string {
	t.Helper()
	script := fmt.Sprintf(`#!/bin/sh
sleep %.2f
i=1
while [ "$i" -le %d ]; do
  printf 'burst %%d\n' "$i"
  i=$((i+1))
done
exit 0
`, delay.Seconds(), lines)
	return writeScript(t, "burst-client", script)
}

// WriteShortLivedClient 生成一个存活指定秒数后退出的伪客户端
func WriteShortLivedClient(t *testing.T, lifetime time.Duration) string {
	t.Helper()
	script := fmt.Sprintf("#!/bin/sh\nsleep %.2f\nexit 0\n", lifetime.Seconds())
	return writeScript(t, "short-lived-client", script)
}

// writeScript 把脚本写入临时目录并加上可执行权限
func writeScript(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

// FastConfig 返回适合单元测试的配置：短间隔、快速巡检
func FastConfig(t *testing.T, binary string) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Harness.ClientBinary = binary
	cfg.Harness.Clients = 2
	cfg.Harness.Sessions = 2
	cfg.Harness.MinInterval = 10 * time.Millisecond
	cfg.Harness.MaxInterval = 30 * time.Millisecond
	cfg.Harness.SpawnGrace = 50 * time.Millisecond
	cfg.Harness.SpawnStagger = 10 * time.Millisecond
	cfg.Harness.LivenessInterval = 50 * time.Millisecond
	cfg.Harness.ReportInterval = 1 * time.Second
	cfg.Harness.TerminateGrace = 1 * time.Second
	require.NoError(t, cfg.Validate())
	return cfg
}
