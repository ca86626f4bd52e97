//go:build windows || nacl || plan9

package logx

// EnableSyslog is a no-op where syslog is not available
func (l *Logger) EnableSyslog(tag string) error {
	return nil
}
