package platformx

func maybeEmitWarning() bool {
	return true
}
