package store

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/unit-linkage/app/models"
)

func stageKey(t *testing.T, stage bson.D) string {
	t.Helper()
	if len(stage) != 1 {
		t.Fatalf("stage has %d elements, want 1", len(stage))
	}
	return stage[0].Key
}

func TestAssociationPipelineShape(t *testing.T) {
	p := buildAssociationPipeline(models.StrategyHybrid)

	if got := stageKey(t, p[0]); got != "$lookup" {
		t.Fatalf("first stage = %s, want $lookup", got)
	}
	first := p[0][0].Value.(bson.M)
	if first["from"] != CollLinkageResults {
		t.Fatalf("first $lookup joins %v, want %s", first["from"], CollLinkageResults)
	}

	last := p[len(p)-1]
	if got := stageKey(t, last); got != "$merge" {
		t.Fatalf("last stage = %s, want $merge", got)
	}
	merge := last[0].Value.(bson.M)
	if merge["into"] != CollEnhancedAssociations {
		t.Fatalf("$merge into %v, want %s", merge["into"], CollEnhancedAssociations)
	}
	if merge["on"] != "association_id" {
		t.Fatalf("$merge on %v, want association_id", merge["on"])
	}
	if merge["whenMatched"] != "replace" || merge["whenNotMatched"] != "insert" {
		t.Fatalf("$merge upsert behaviour wrong: %v", merge)
	}

	// No stage may surface documents client-side before the merge.
	for _, stage := range p {
		if k := stageKey(t, stage); k == "$out" {
			t.Fatal("pipeline must use $merge, not $out")
		}
	}
}

func memberConditions(t *testing.T, p mongo.Pipeline) bson.A {
	t.Helper()
	for _, stage := range p {
		if stage[0].Key != "$lookup" {
			continue
		}
		lookup := stage[0].Value.(bson.M)
		if lookup["from"] != CollSecondaryUnits {
			continue
		}
		inner := lookup["pipeline"].(bson.A)
		match := inner[0].(bson.M)["$match"].(bson.M)
		return match["$expr"].(bson.M)["$or"].(bson.A)
	}
	t.Fatal("secondary lookup stage not found")
	return nil
}

func TestAssociationPipelineMembershipPerStrategy(t *testing.T) {
	cases := []struct {
		strategy models.AssociationStrategy
		conds    int
	}{
		{models.StrategyBuildingBased, 1},
		{models.StrategyUnitBased, 3},
		{models.StrategyHybrid, 4},
	}
	for _, tc := range cases {
		t.Run(string(tc.strategy), func(t *testing.T) {
			conds := memberConditions(t, buildAssociationPipeline(tc.strategy))
			if len(conds) != tc.conds {
				t.Fatalf("%s has %d membership conditions, want %d",
					tc.strategy, len(conds), tc.conds)
			}
		})
	}
}

func TestAssociationPipelineHybridSortsBuildingFirst(t *testing.T) {
	p := buildAssociationPipeline(models.StrategyHybrid)

	var sortBy bson.D
	for _, stage := range p {
		if stage[0].Key != "$addFields" {
			continue
		}
		fields := stage[0].Value.(bson.M)
		m, ok := fields["members"].(bson.M)
		if !ok {
			continue
		}
		if sa, ok := m["$sortArray"].(bson.M); ok {
			sortBy = sa["sortBy"].(bson.D)
		}
	}
	if sortBy == nil {
		t.Fatal("$sortArray stage not found")
	}
	if sortBy[0].Key != "is_building" || sortBy[0].Value != -1 {
		t.Fatalf("hybrid sort leads with %v, want is_building desc", sortBy[0])
	}
	if sortBy[1].Key != "similarity_score" {
		t.Fatalf("second sort key = %s, want similarity_score", sortBy[1].Key)
	}
}

// Consistency spans the comparable logical fields: name, credit code,
// address, legal rep, safety manager, phone.
func TestAssociationPipelineConsistencyFieldCoverage(t *testing.T) {
	p := buildAssociationPipeline(models.StrategyHybrid)

	var checked bson.A
	for _, stage := range p {
		if stage[0].Key != "$addFields" {
			continue
		}
		fields := stage[0].Value.(bson.M)
		if c, ok := fields["consistency_checked"].(bson.M); ok {
			checked = c["$add"].(bson.A)
		}
	}
	if checked == nil {
		t.Fatal("consistency_checked stage not found")
	}
	if len(checked) != 6 {
		t.Fatalf("consistency checks %d fields, want 6", len(checked))
	}

	presence := make(map[string]bool)
	for _, term := range checked {
		cond := term.(bson.M)["$cond"].(bson.A)
		ifNull := cond[0].(bson.M)["$ne"].(bson.A)[0].(bson.M)["$ifNull"].(bson.A)
		presence[ifNull[0].(string)] = true
	}
	for _, field := range []string{"$address", "$safety_manager", "$normalized.name_canonical"} {
		if !presence[field] {
			t.Errorf("consistency does not check %s (checked: %v)", field, presence)
		}
	}
}

func TestAssociationPipelineIDIncludesStrategy(t *testing.T) {
	for _, strategy := range []models.AssociationStrategy{
		models.StrategyBuildingBased, models.StrategyUnitBased, models.StrategyHybrid,
	} {
		p := buildAssociationPipeline(strategy)

		var project bson.M
		for _, stage := range p {
			if stage[0].Key == "$project" {
				project = stage[0].Value.(bson.M)
			}
		}
		if project == nil {
			t.Fatalf("%s: $project stage not found", strategy)
		}
		concat := project["association_id"].(bson.M)["$concat"].(bson.A)
		if concat[0] != "$unit_id" || concat[1] != "::" || concat[2] != string(strategy) {
			t.Fatalf("%s: association_id derivation = %v", strategy, concat)
		}
		if project["association_strategy"] != string(strategy) {
			t.Fatalf("%s: association_strategy = %v", strategy, project["association_strategy"])
		}
	}
}
