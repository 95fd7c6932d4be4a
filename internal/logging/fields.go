package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供站点/前缀/模式/命中状态字段，供静态请求日志复用。
func RequestFields(site, prefix, mode string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"site":      site,
		"prefix":    prefix,
		"mode":      mode,
		"cache_hit": cacheHit,
	}
}
