package service

import "context"

type testTxRepos struct {
	concepts      ConceptRepositoryInterface
	relationships RelationshipRepositoryInterface
}

func (t *testTxRepos) Concepts() ConceptRepositoryInterface {
	return t.concepts
}

func (t *testTxRepos) Relationships() RelationshipRepositoryInterface {
	return t.relationships
}

type testTxRunner struct {
	repos  TxRepositories
	called bool
	err    error
}

func (t *testTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	t.called = true
	if t.err != nil {
		return t.err
	}
	return fn(t.repos)
}
