package classify

import "testing"

func TestClassifyNonOriginKindNormalizesToSender(t *testing.T) {
	mc := Classify(Submission{Kind: RequestBlocks, Origin: Forward("whatever")})
	if mc.Origin.Tag != OriginSender {
		t.Fatalf("RequestBlocks must normalize to Sender, got %+v", mc.Origin)
	}
	if _, ok := mc.ExcludedSource(); ok {
		t.Fatalf("non-origin kind must not exclude any source")
	}
}

func TestClassifyForwardedTransactionExcludesSource(t *testing.T) {
	mc := Classify(Submission{Kind: Transaction, Origin: Forward("peer-x")})
	src, ok := mc.ExcludedSource()
	if !ok || src != "peer-x" {
		t.Fatalf("expected excluded source peer-x, got %v %v", src, ok)
	}
}

func TestClassifySelfAuthoredTransaction(t *testing.T) {
	mc := Classify(Submission{Kind: Transaction, Origin: Sender()})
	if _, ok := mc.ExcludedSource(); ok {
		t.Fatalf("self-authored transaction must not exclude any source")
	}
}
